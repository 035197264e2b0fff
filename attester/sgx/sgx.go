// Package sgx produces attestation evidence inside Intel SGX enclaves
// running under a Gramine-style LibOS, which exposes DCAP quoting as a
// pseudo-filesystem: report data is written to one file and the signed
// quote read back from another.
package sgx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/go-tee-guest/attester"
)

// reportDataSize is the SGX REPORTDATA field width; the LibOS requires the
// user report data file to be written with exactly this many bytes.
const reportDataSize = 64

const defaultRoot = "/dev/attestation"

const (
	reportDataFile = "user_report_data"
	quoteFile      = "quote"
)

// Attester generates SGX DCAP quotes through the LibOS attestation files.
type Attester struct {
	// Root is the attestation pseudo-filesystem, /dev/attestation under
	// Gramine. Settable for tests and nonstandard runtimes.
	Root string

	mu sync.Mutex
}

var _ attester.Attester = (*Attester)(nil)

// New returns an SGX backend using the standard attestation root.
func New() *Attester {
	return &Attester{Root: defaultRoot}
}

// TeeType implements attester.Attester.
func (*Attester) TeeType() attester.TeeType {
	return attester.SGX
}

// Detect reports whether the LibOS exposes the two attestation files this
// backend drives.
func (a *Attester) Detect() bool {
	if _, err := os.Stat(filepath.Join(a.Root, reportDataFile)); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(a.Root, quoteFile))
	return err == nil
}

// MaxChallengeLen returns the SGX report data capacity.
func (*Attester) MaxChallengeLen() int {
	return reportDataSize
}

// Attest writes the padded challenge as report data and reads back the
// quote the quoting enclave produced for it. The two files are a single
// stateful exchange, so concurrent calls are serialized.
func (a *Attester) Attest(_ context.Context, challenge []byte) (*attester.Evidence, error) {
	if len(challenge) > reportDataSize {
		return nil, &attester.ChallengeSizeError{TeeType: attester.SGX, Len: len(challenge), Max: reportDataSize}
	}

	reportData := make([]byte, reportDataSize)
	copy(reportData, challenge)

	a.mu.Lock()
	defer a.mu.Unlock()

	reportDataPath := filepath.Join(a.Root, reportDataFile)
	if err := os.WriteFile(reportDataPath, reportData, 0600); err != nil {
		return nil, &attester.DeviceError{TeeType: attester.SGX, Path: reportDataPath, Err: err}
	}
	quotePath := filepath.Join(a.Root, quoteFile)
	quote, err := os.ReadFile(quotePath)
	if err != nil {
		return nil, &attester.DeviceError{TeeType: attester.SGX, Path: quotePath, Err: err}
	}
	if len(quote) == 0 {
		return nil, &attester.QuoteError{TeeType: attester.SGX, Err: errors.New("quoting enclave returned an empty quote")}
	}

	return &attester.Evidence{TeeType: attester.SGX, Quote: quote}, nil
}

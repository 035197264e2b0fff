// Package tdx produces attestation evidence on Intel TDX guests using the
// kernel's configfs-tsm quote interface.
package tdx

import (
	"context"
	"os"
	"sync"

	tg "github.com/google/go-tdx-guest/client"
	tlabi "github.com/google/go-tdx-guest/client/linuxabi"

	"github.com/google/go-tee-guest/attester"
)

const (
	ccelTablePath = "/sys/firmware/acpi/tables/CCEL"
	ccelDataPath  = "/sys/firmware/acpi/tables/data/CCEL"
)

// Attester generates TD quotes over the configfs-tsm report interface.
// Construct with New.
type Attester struct {
	mu sync.Mutex
	// qp is nil when no quote provider could be constructed; such an
	// Attester never detects.
	qp tg.QuoteProvider

	ccelTablePath string
	ccelDataPath  string
}

var _ attester.Attester = (*Attester)(nil)

// New returns a TDX backend. The machine's quote provider is resolved once
// here; whether it is usable is answered by Detect.
func New() *Attester {
	a := &Attester{
		ccelTablePath: ccelTablePath,
		ccelDataPath:  ccelDataPath,
	}
	if qp, err := tg.GetQuoteProvider(); err == nil {
		a.qp = qp
	}
	return a
}

// TeeType implements attester.Attester.
func (*Attester) TeeType() attester.TeeType {
	return attester.TDX
}

// Detect reports whether the TDX quoting interface is enabled on this
// guest.
func (a *Attester) Detect() bool {
	return a.qp != nil && a.qp.IsSupported() == nil
}

// MaxChallengeLen returns the TD report data capacity.
func (*Attester) MaxChallengeLen() int {
	return tlabi.TdReportDataSize
}

// Attest generates a TD quote with challenge bound into the report data.
// The CC event log (ACPI CCEL table plus its data) is attached when the
// firmware exposes it; its absence is not an error.
func (a *Attester) Attest(_ context.Context, challenge []byte) (*attester.Evidence, error) {
	if len(challenge) > tlabi.TdReportDataSize {
		return nil, &attester.ChallengeSizeError{TeeType: attester.TDX, Len: len(challenge), Max: tlabi.TdReportDataSize}
	}
	if a.qp == nil {
		return nil, &attester.DeviceError{TeeType: attester.TDX, Path: "configfs-tsm", Err: os.ErrNotExist}
	}

	var reportData [tlabi.TdReportDataSize]byte
	copy(reportData[:], challenge)

	a.mu.Lock()
	rawQuote, err := tg.GetRawQuote(a.qp, reportData)
	a.mu.Unlock()
	if err != nil {
		return nil, &attester.QuoteError{TeeType: attester.TDX, Err: err}
	}

	return &attester.Evidence{
		TeeType: attester.TDX,
		Quote:   rawQuote,
		Extra:   a.readCCEL(),
	}, nil
}

// readCCEL collects the CC event log. Both the ACPI table and its data blob
// must be readable for the log to be usable by a verifier, so a partial
// read attaches nothing.
func (a *Attester) readCCEL() *attester.Extra {
	table, err := os.ReadFile(a.ccelTablePath)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(a.ccelDataPath)
	if err != nil {
		return nil
	}
	return &attester.Extra{CcelAcpiTable: table, CcelData: data}
}

// Package csv produces attestation evidence on Hygon CSV guests. A CSV
// quote cannot be validated without the Hygon certificate chain for the
// chip that signed it, so evidence generation includes fetching that chain
// from Hygon's key distribution service and fails as a unit when the chain
// cannot be obtained.
package csv

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/emmansun/gmsm/sm3"

	"github.com/google/go-tee-guest/attester"
)

const defaultDevicePath = "/dev/csv-guest"

// Layout of the CSV_CMD_GET_ATTESTATION_REPORT exchange, per the Hygon CSV
// guest driver ABI. The request carries the caller's report data, a random
// mnonce and an SM3 digest over both; the firmware writes the report back
// into the same buffer.
const (
	userDataSize = 64
	mnonceSize   = 16

	// reportSize is the attestation report the firmware returns.
	reportSize = 2548
	// anonceOffset locates the u32 the firmware XORs over the report's
	// certificate, serial number and reserved regions.
	anonceOffset = 188
	// snOffset and snSize locate the XORed chip serial number.
	snOffset = 2420
	snSize   = 64
)

// Attester generates CSV attestation reports through the guest device and
// pairs each with the signing chip's certificate chain. Construct with New.
type Attester struct {
	// DevicePath is the CSV guest device node.
	DevicePath string

	// Fetcher retrieves the HSK and CEK chain for the reporting chip.
	Fetcher *CertFetcher

	mu sync.Mutex
	// getReport issues the report request against the device node.
	// Platform-specific; overridden in tests.
	getReport func(devicePath string, request []byte) ([]byte, error)
}

var _ attester.Attester = (*Attester)(nil)

// New returns a CSV backend with the default device node and chain
// fetcher.
func New() *Attester {
	return &Attester{
		DevicePath: defaultDevicePath,
		Fetcher:    NewCertFetcher(),
		getReport:  getReport,
	}
}

// TeeType implements attester.Attester.
func (*Attester) TeeType() attester.TeeType {
	return attester.CSV
}

// Detect reports whether the CSV guest device node exists.
func (a *Attester) Detect() bool {
	_, err := os.Stat(a.DevicePath)
	return err == nil
}

// MaxChallengeLen returns the CSV report data capacity.
func (*Attester) MaxChallengeLen() int {
	return userDataSize
}

// Attest generates a CSV attestation report with challenge bound into its
// user data and attaches the Hygon certificate chain for the chip named in
// the report. The quote was produced by the time the chain fetch starts;
// the fetch honors ctx, and its failure fails the whole call.
func (a *Attester) Attest(ctx context.Context, challenge []byte) (*attester.Evidence, error) {
	if len(challenge) > userDataSize {
		return nil, &attester.ChallengeSizeError{TeeType: attester.CSV, Len: len(challenge), Max: userDataSize}
	}

	request, err := buildRequest(challenge)
	if err != nil {
		return nil, &attester.QuoteError{TeeType: attester.CSV, Err: err}
	}

	a.mu.Lock()
	raw, err := a.getReport(a.DevicePath, request)
	a.mu.Unlock()
	if err != nil {
		return nil, &attester.DeviceError{TeeType: attester.CSV, Path: a.DevicePath, Err: err}
	}
	if len(raw) < reportSize {
		return nil, &attester.QuoteError{TeeType: attester.CSV, Err: fmt.Errorf("firmware returned %d bytes, report is %d", len(raw), reportSize)}
	}
	quote := raw[:reportSize]

	chip, err := chipID(quote)
	if err != nil {
		return nil, &attester.QuoteError{TeeType: attester.CSV, Err: err}
	}
	chain, err := a.Fetcher.FetchChain(ctx, chip)
	if err != nil {
		return nil, err
	}

	return &attester.Evidence{
		TeeType: attester.CSV,
		Quote:   quote,
		Extra:   &attester.Extra{CertChain: chain},
	}, nil
}

// buildRequest assembles the firmware request: the padded report data, a
// fresh mnonce and the SM3 digest the firmware checks over both.
func buildRequest(challenge []byte) ([]byte, error) {
	request := make([]byte, userDataSize+mnonceSize+sm3.Size)
	copy(request, challenge)
	if _, err := rand.Read(request[userDataSize : userDataSize+mnonceSize]); err != nil {
		return nil, fmt.Errorf("generating mnonce: %w", err)
	}
	sum := sm3.Sum(request[:userDataSize+mnonceSize])
	copy(request[userDataSize+mnonceSize:], sum[:])
	return request, nil
}

// chipID recovers the chip serial number from a report. The firmware XORs
// the field with the report's anonce word; the decoded value is ASCII,
// NUL-padded to its field size.
func chipID(report []byte) (string, error) {
	anonce := binary.LittleEndian.Uint32(report[anonceOffset:])
	sn := make([]byte, snSize)
	for i := 0; i < snSize; i += 4 {
		word := binary.LittleEndian.Uint32(report[snOffset+i:]) ^ anonce
		binary.LittleEndian.PutUint32(sn[i:], word)
	}
	if i := bytes.IndexByte(sn, 0); i >= 0 {
		sn = sn[:i]
	}
	if len(sn) == 0 {
		return "", errors.New("report carries no chip serial number")
	}
	return string(sn), nil
}

// Package snp produces attestation evidence on AMD SEV-SNP guests.
package snp

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/google/go-configfs-tsm/configfs/linuxtsm"
	"github.com/google/go-configfs-tsm/report"
	sabi "github.com/google/go-sev-guest/abi"
	sg "github.com/google/go-sev-guest/client"

	"github.com/google/go-tee-guest/attester"
)

// leastPrivilegedVMPL requests reports at the lowest privilege level so the
// call works regardless of which VMPL the guest runs at.
const leastPrivilegedVMPL = 3

// Attester generates SEV-SNP attestation reports through the guest device
// or configfs-tsm, whichever the kernel provides. Construct with New.
type Attester struct {
	mu sync.Mutex
	// qp is nil when no quote provider could be constructed; such an
	// Attester never detects.
	qp sg.QuoteProvider

	// getCerts retrieves the GHCB certificate table accompanying a report
	// with the given report data. Overridden in tests.
	getCerts func(reportData [sabi.ReportDataSize]byte) ([]byte, error)
}

var _ attester.Attester = (*Attester)(nil)

// New returns a SEV-SNP backend.
func New() *Attester {
	a := &Attester{getCerts: certTable}
	if qp, err := sg.GetQuoteProvider(); err == nil {
		a.qp = qp
	}
	return a
}

// TeeType implements attester.Attester.
func (*Attester) TeeType() attester.TeeType {
	return attester.SevSnp
}

// Detect reports whether a SEV-SNP report interface is usable on this
// guest.
func (a *Attester) Detect() bool {
	return a.qp != nil && a.qp.IsSupported()
}

// MaxChallengeLen returns the SNP report data capacity.
func (*Attester) MaxChallengeLen() int {
	return sabi.ReportDataSize
}

// Attest generates an attestation report with challenge bound into the
// report data. The host-cached GHCB certificate table is attached when the
// platform serves one; verifiers that need certificates otherwise fetch
// them from AMD's KDS, so failure to obtain the table does not fail the
// call.
func (a *Attester) Attest(_ context.Context, challenge []byte) (*attester.Evidence, error) {
	if len(challenge) > sabi.ReportDataSize {
		return nil, &attester.ChallengeSizeError{TeeType: attester.SevSnp, Len: len(challenge), Max: sabi.ReportDataSize}
	}
	if a.qp == nil {
		return nil, &attester.DeviceError{TeeType: attester.SevSnp, Path: "/dev/sev-guest", Err: os.ErrNotExist}
	}

	var reportData [sabi.ReportDataSize]byte
	copy(reportData[:], challenge)

	a.mu.Lock()
	raw, err := a.qp.GetRawQuote(reportData)
	a.mu.Unlock()
	if err != nil {
		return nil, &attester.QuoteError{TeeType: attester.SevSnp, Err: err}
	}
	// Some providers return the report with the certificate table
	// concatenated; the quote is only the report itself.
	if len(raw) > sabi.ReportSize {
		raw = raw[:sabi.ReportSize]
	}
	if len(raw) < sabi.ReportSize {
		return nil, &attester.QuoteError{TeeType: attester.SevSnp, Err: errors.New("report shorter than the SNP ABI requires")}
	}

	ev := &attester.Evidence{TeeType: attester.SevSnp, Quote: raw}
	if certs, err := a.getCerts(reportData); err == nil && len(certs) > 0 {
		ev.Extra = &attester.Extra{CertChain: certs}
	}
	return ev, nil
}

// certTable requests a report over configfs-tsm with the auxiliary blob,
// which carries the certificate table the host has cached for the guest.
func certTable(reportData [sabi.ReportDataSize]byte) ([]byte, error) {
	client, err := linuxtsm.MakeClient()
	if err != nil {
		return nil, err
	}
	resp, err := report.Get(client, &report.Request{
		InBlob:     reportData[:],
		GetAuxBlob: true,
		Privilege: &report.Privilege{
			Level: leastPrivilegedVMPL,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.AuxBlob) == 0 {
		return nil, errors.New("platform serves no certificate table")
	}
	return sabi.ExtendedPlatformCertTable(resp.AuxBlob)
}

// Package azsnpvtpm produces attestation evidence on Azure confidential
// VMs with SEV-SNP, where the platform brokers SNP reports through its
// virtual TPM instead of a guest device node. Writing report data to a
// well-known NV index makes the paravisor regenerate its HCL report; the
// report is then read back from a second index.
package azsnpvtpm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/google/go-tee-guest/attester"
)

const (
	// reportIndex holds the HCL report the paravisor last generated.
	reportIndex = tpmutil.Handle(0x01400001)
	// userDataIndex accepts the report data; writing it regenerates the
	// HCL report.
	userDataIndex = tpmutil.Handle(0x01400002)

	userDataSize = 64

	// snpReportOffset and snpReportSize locate the SEV-SNP report inside
	// the HCL blob.
	snpReportOffset = 32
	snpReportSize   = 1184

	// azureChassisAssetTag is the SMBIOS chassis asset tag Azure stamps
	// on its VMs.
	azureChassisAssetTag = "7783-7084-3265-9085-8269-3286-77"

	defaultAssetTagPath = "/sys/class/dmi/id/chassis_asset_tag"
)

var defaultTPMPaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// Attester generates SNP evidence through the Azure vTPM. Construct with
// New.
type Attester struct {
	// AssetTagPath is the sysfs node carrying the SMBIOS chassis asset
	// tag.
	AssetTagPath string
	// TPMPaths are tried in order when opening the TPM.
	TPMPaths []string

	mu sync.Mutex
	// readReport writes the report data and reads back the regenerated
	// HCL report. Overridden in tests.
	readReport func(tpmPaths []string, userData []byte) ([]byte, error)
}

var _ attester.Attester = (*Attester)(nil)

// New returns an Azure vTPM backend with the default device paths.
func New() *Attester {
	return &Attester{
		AssetTagPath: defaultAssetTagPath,
		TPMPaths:     defaultTPMPaths,
		readReport:   readReport,
	}
}

// TeeType implements attester.Attester.
func (*Attester) TeeType() attester.TeeType {
	return attester.AzSnpVtpm
}

// Detect reports whether this is an Azure VM with a TPM device node. The
// chassis asset tag check keeps the backend from claiming generic SEV-SNP
// machines.
func (a *Attester) Detect() bool {
	tag, err := os.ReadFile(a.AssetTagPath)
	if err != nil || strings.TrimSpace(string(tag)) != azureChassisAssetTag {
		return false
	}
	for _, path := range a.TPMPaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// MaxChallengeLen returns the report data capacity of the user data NV
// index.
func (*Attester) MaxChallengeLen() int {
	return userDataSize
}

// Attest regenerates the HCL report with challenge bound into its report
// data and returns the whole report as the quote. Verifiers need the HCL
// runtime data around the embedded SNP report to check the binding, so the
// blob is not trimmed down to the SNP report alone.
func (a *Attester) Attest(ctx context.Context, challenge []byte) (*attester.Evidence, error) {
	if len(challenge) > userDataSize {
		return nil, &attester.ChallengeSizeError{TeeType: attester.AzSnpVtpm, Len: len(challenge), Max: userDataSize}
	}
	userData := make([]byte, userDataSize)
	copy(userData, challenge)

	a.mu.Lock()
	report, err := a.readReport(a.TPMPaths, userData)
	a.mu.Unlock()
	if err != nil {
		return nil, &attester.DeviceError{TeeType: attester.AzSnpVtpm, Path: a.TPMPaths[0], Err: err}
	}
	if len(report) < snpReportOffset+snpReportSize {
		return nil, &attester.QuoteError{TeeType: attester.AzSnpVtpm, Err: fmt.Errorf("HCL report is %d bytes, too short to hold an SNP report", len(report))}
	}

	return &attester.Evidence{
		TeeType: attester.AzSnpVtpm,
		Quote:   report,
	}, nil
}

func readReport(tpmPaths []string, userData []byte) ([]byte, error) {
	rw, err := openTPM(tpmPaths)
	if err != nil {
		return nil, err
	}
	defer rw.Close()
	if err := tpm2.NVWrite(rw, tpm2.HandleOwner, userDataIndex, "", userData, 0); err != nil {
		return nil, fmt.Errorf("writing report data: %w", err)
	}
	report, err := tpm2.NVReadEx(rw, reportIndex, tpm2.HandleOwner, "", 0)
	if err != nil {
		return nil, fmt.Errorf("reading HCL report: %w", err)
	}
	return report, nil
}

func openTPM(paths []string) (io.ReadWriteCloser, error) {
	err := error(os.ErrNotExist)
	for _, path := range paths {
		var rw io.ReadWriteCloser
		rw, err = tpm2.OpenTPM(path)
		if err == nil {
			return rw, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, err
}

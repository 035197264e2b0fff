// Package client wires the platform backends into a process-wide detector.
// Most callers only need GenerateEvidence; programs that manage their own
// backend set can build an attester.Detector directly.
package client

import (
	"context"

	"github.com/google/go-tee-guest/attester"
	"github.com/google/go-tee-guest/attester/azsnpvtpm"
	"github.com/google/go-tee-guest/attester/csv"
	"github.com/google/go-tee-guest/attester/sgx"
	"github.com/google/go-tee-guest/attester/snp"
	"github.com/google/go-tee-guest/attester/tdx"
)

// DefaultAttesters returns the supported backends in probe order, most
// specific first. The Azure vTPM backend precedes generic SEV-SNP so that
// Azure machines bind to the transport that actually works there.
func DefaultAttesters() []attester.Attester {
	return []attester.Attester{
		tdx.New(),
		sgx.New(),
		azsnpvtpm.New(),
		snp.New(),
		csv.New(),
	}
}

var defaultDetector = attester.NewDetector(DefaultAttesters()...)

// GenerateEvidence produces attestation evidence for challenge from the
// platform's TEE, detecting it on first use.
func GenerateEvidence(ctx context.Context, challenge []byte) (*attester.Evidence, error) {
	return defaultDetector.GenerateEvidence(ctx, challenge)
}

// ActiveTee reports which TEE the process-wide detector is bound to, if
// detection has already run and succeeded.
func ActiveTee() (attester.TeeType, bool) {
	return defaultDetector.ActiveTee()
}

// Reset clears the cached detection result so the next call probes the
// platform again.
func Reset() {
	defaultDetector.Reset()
}

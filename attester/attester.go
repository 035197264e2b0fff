// Package attester produces hardware-rooted attestation evidence from the
// Trusted Execution Environment a workload runs in. It defines:
//   - the uniform contract every hardware backend implements
//   - the evidence envelope returned to attestation agents
//   - the Detector that binds a process to the single backend whose
//     hardware is present
//
// Backends for the supported TEE technologies live in subpackages; the
// client package wires them together in their default priority order.
package attester

import "context"

// TeeType names a supported TEE technology.
type TeeType string

// The TEE technologies evidence can be produced for.
const (
	TDX       TeeType = "tdx"
	SGX       TeeType = "sgx"
	SevSnp    TeeType = "sev_snp"
	CSV       TeeType = "csv"
	AzSnpVtpm TeeType = "az_snp_vtpm"
)

// Evidence is the envelope returned for a single attestation request. It
// wraps one hardware quote, tagged with the technology that produced it.
// Wire encoding is the caller's decision; the JSON tags only fix field
// names for callers that choose JSON.
type Evidence struct {
	// TeeType identifies the backend that produced Quote.
	TeeType TeeType `json:"tee_type"`

	// Quote is the raw, backend-specific attestation report. It is opaque
	// to this package: verifiers parse it, this library only binds the
	// caller's challenge into it and passes it through.
	Quote []byte `json:"quote"`

	// Extra carries auxiliary blobs a verifier needs alongside the quote,
	// when the technology has any. Nil for backends without them.
	Extra *Extra `json:"extra,omitempty"`
}

// Extra holds backend-specific auxiliary evidence.
type Extra struct {
	// CertChain is the certificate material needed to validate the quote
	// signature. For CSV this is the Hygon HSK and CEK chain and is always
	// present; for SEV-SNP it is the GHCB certificate table and is attached
	// best-effort.
	CertChain []byte `json:"cert_chain,omitempty"`

	// CcelAcpiTable is the raw ACPI CCEL table (TDX only).
	CcelAcpiTable []byte `json:"ccel_acpi_table,omitempty"`

	// CcelData is the CC event log the CCEL table points at (TDX only).
	CcelData []byte `json:"ccel_data,omitempty"`
}

// Attester is implemented by every hardware backend.
type Attester interface {
	// TeeType returns the technology this backend attests.
	TeeType() TeeType

	// Detect reports whether this backend's hardware interface is present
	// and usable on the current machine. It must be cheap and free of side
	// effects; an absent platform is a normal false, never an error.
	Detect() bool

	// MaxChallengeLen returns the largest challenge, in bytes, the
	// backend can bind into a quote.
	MaxChallengeLen() int

	// Attest produces evidence bound to challenge. Challenges shorter than
	// MaxChallengeLen are zero-padded into the hardware report data field;
	// longer ones are rejected with a ChallengeSizeError before any device
	// interaction. The returned envelope is complete or the call fails.
	Attest(ctx context.Context, challenge []byte) (*Evidence, error)
}

// Package fake is a configurable in-memory implementation of the
// attester.Attester interface for testing detectors and agents without
// TEE hardware.
package fake

import (
	"context"
	"sync"

	"github.com/google/go-tee-guest/attester"
)

// Attester is a software stand-in for a hardware backend. Configure the
// exported fields before use; the zero value detects nothing and produces
// an empty quote. Counters record how often the hardware-facing operations
// ran, so tests can assert that rejected or short-circuited requests never
// reached the device.
type Attester struct {
	// Kind is the TeeType this fake claims to be.
	Kind attester.TeeType

	// Present is what Detect reports.
	Present bool

	// Quote is returned inside every successful envelope.
	Quote []byte

	// Extra, when non-nil, is attached to every successful envelope.
	Extra *attester.Extra

	// Err, when non-nil, fails every Attest call.
	Err error

	// MaxLen is the challenge capacity. Zero means the hardware default
	// of 64 bytes.
	MaxLen int

	mu          sync.Mutex
	detectCalls int
	attestCalls int
}

var _ attester.Attester = (*Attester)(nil)

// New returns a present fake of the given kind producing quote.
func New(kind attester.TeeType, quote []byte) *Attester {
	return &Attester{Kind: kind, Present: true, Quote: quote}
}

// TeeType implements attester.Attester.
func (a *Attester) TeeType() attester.TeeType {
	return a.Kind
}

// Detect implements attester.Attester and counts the probe.
func (a *Attester) Detect() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detectCalls++
	return a.Present
}

// MaxChallengeLen implements attester.Attester.
func (a *Attester) MaxChallengeLen() int {
	if a.MaxLen == 0 {
		return 64
	}
	return a.MaxLen
}

// Attest implements attester.Attester. It enforces the challenge limit the
// way a hardware backend does, counts calls that reach the fake device, and
// returns the configured quote or error.
func (a *Attester) Attest(_ context.Context, challenge []byte) (*attester.Evidence, error) {
	if len(challenge) > a.MaxChallengeLen() {
		return nil, &attester.ChallengeSizeError{TeeType: a.Kind, Len: len(challenge), Max: a.MaxChallengeLen()}
	}
	a.mu.Lock()
	a.attestCalls++
	a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	return &attester.Evidence{TeeType: a.Kind, Quote: a.Quote, Extra: a.Extra}, nil
}

// DetectCalls reports how many times Detect ran.
func (a *Attester) DetectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detectCalls
}

// AttestCalls reports how many times Attest reached the fake device.
func (a *Attester) AttestCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attestCalls
}

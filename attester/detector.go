package attester

import (
	"context"
	"sync"

	"github.com/google/logger"
)

type detectState int

const (
	stateUninitialized detectState = iota
	stateBound
	stateUnsupported
)

// Detector probes the machine for the single TEE technology present among a
// prioritized list of backends and routes evidence requests to it. The
// decision is made lazily on first use, cached until Reset, and written only
// under the Detector's lock. A zero Detector has no backends and detects
// nothing; construct with NewDetector.
type Detector struct {
	mu       sync.Mutex
	backends []Attester
	state    detectState
	bound    Attester
}

// NewDetector returns a Detector probing backends in the given order. The
// first backend whose Detect returns true wins, so callers list the most
// specific technology first. client.DefaultAttesters is the standard list.
func NewDetector(backends ...Attester) *Detector {
	return &Detector{backends: backends}
}

// backend returns the bound backend, running detection if it has not
// happened since construction or the last Reset.
func (d *Detector) backend() (Attester, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateBound:
		return d.bound, nil
	case stateUnsupported:
		return nil, ErrPlatformNotSupported
	}

	for _, b := range d.backends {
		if b.Detect() {
			d.bound = b
			d.state = stateBound
			logger.Infof("using %s as the attestation evidence backend", b.TeeType())
			return b, nil
		}
	}
	d.state = stateUnsupported
	logger.Infof("no TEE attestation backend detected among %d probed", len(d.backends))
	return nil, ErrPlatformNotSupported
}

// GenerateEvidence produces attestation evidence bound to challenge from
// the backend this machine supports. It fails fast with
// ErrPlatformNotSupported once detection has concluded no backend applies,
// and with a ChallengeSizeError before invoking the backend when challenge
// exceeds its report data capacity.
func (d *Detector) GenerateEvidence(ctx context.Context, challenge []byte) (*Evidence, error) {
	b, err := d.backend()
	if err != nil {
		return nil, err
	}
	if max := b.MaxChallengeLen(); len(challenge) > max {
		return nil, &ChallengeSizeError{TeeType: b.TeeType(), Len: len(challenge), Max: max}
	}
	return b.Attest(ctx, challenge)
}

// ActiveTee reports which TEE technology this machine is bound to, running
// detection if needed. The second return is false when no backend detected
// hardware. Health checks and tooling may call this independently of
// evidence generation.
func (d *Detector) ActiveTee() (TeeType, bool) {
	b, err := d.backend()
	if err != nil {
		return "", false
	}
	return b.TeeType(), true
}

// Reset discards the cached detection decision so the next call re-probes
// the hardware. Intended for explicit re-detection after a platform change;
// steady-state callers never need it.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = stateUninitialized
	d.bound = nil
}

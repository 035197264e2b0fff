package attester

import (
	"errors"
	"fmt"
)

// ErrPlatformNotSupported is returned once detection has concluded that no
// compiled-in backend has usable hardware on this machine. It is fatal for
// the process as far as attestation goes; only an explicit Detector.Reset
// (after a platform change) clears it.
var ErrPlatformNotSupported = errors.New("no supported TEE platform detected")

// ChallengeSizeError reports a challenge exceeding the backend's report
// data capacity. It is raised before any hardware interaction.
type ChallengeSizeError struct {
	TeeType TeeType
	Len     int
	Max     int
}

func (e *ChallengeSizeError) Error() string {
	return fmt.Sprintf("%s: challenge is %d bytes, backend supports at most %d", e.TeeType, e.Len, e.Max)
}

// DeviceError reports an I/O failure against a backend's hardware
// interface (device node, configfs entry, TPM, or attestation file).
type DeviceError struct {
	TeeType TeeType
	Path    string
	Err     error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: device %s: %v", e.TeeType, e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// QuoteError reports that the hardware primitive ran but refused the
// request or returned an unusable report.
type QuoteError struct {
	TeeType TeeType
	Err     error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("%s: quote generation failed: %v", e.TeeType, e.Err)
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed certificate chain retrieval. Attempts counts
// every request issued before giving up; a permanent failure (for example
// an HTTP 4xx) stops after one.
type FetchError struct {
	TeeType  TeeType
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetching certificate chain from %s failed after %d attempt(s): %v", e.TeeType, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

package attester_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-tee-guest/attester"
	"github.com/google/go-tee-guest/attester/fake"
)

func TestDetectorBindsFirstPresentBackend(t *testing.T) {
	tdx := &fake.Attester{Kind: attester.TDX}
	snp := fake.New(attester.SevSnp, []byte("snp quote"))
	csv := fake.New(attester.CSV, []byte("csv quote"))
	d := attester.NewDetector(tdx, snp, csv)

	ev, err := d.GenerateEvidence(context.Background(), []byte("challenge"))
	if err != nil {
		t.Fatalf("GenerateEvidence() failed: %v", err)
	}
	if ev.TeeType != attester.SevSnp {
		t.Errorf("bound to %q, want %q", ev.TeeType, attester.SevSnp)
	}
	if !bytes.Equal(ev.Quote, []byte("snp quote")) {
		t.Errorf("got quote %q, want %q", ev.Quote, "snp quote")
	}
	if csv.DetectCalls() != 0 {
		t.Errorf("probed %d backends past the first present one, want 0", csv.DetectCalls())
	}
	if csv.AttestCalls() != 0 || tdx.AttestCalls() != 0 {
		t.Error("an unbound backend generated evidence")
	}
}

func TestDetectionIsCached(t *testing.T) {
	snp := fake.New(attester.SevSnp, []byte("quote"))
	d := attester.NewDetector(snp)

	for i := 0; i < 3; i++ {
		if _, err := d.GenerateEvidence(context.Background(), nil); err != nil {
			t.Fatalf("GenerateEvidence() call %d failed: %v", i, err)
		}
	}
	if got := snp.DetectCalls(); got != 1 {
		t.Errorf("hardware probed %d times across 3 requests, want 1", got)
	}
}

func TestDetectorUnsupportedFailsFast(t *testing.T) {
	absent := &fake.Attester{Kind: attester.TDX}
	d := attester.NewDetector(absent)

	for i := 0; i < 2; i++ {
		if _, err := d.GenerateEvidence(context.Background(), nil); !errors.Is(err, attester.ErrPlatformNotSupported) {
			t.Fatalf("GenerateEvidence() = %v, want ErrPlatformNotSupported", err)
		}
	}
	if got := absent.DetectCalls(); got != 1 {
		t.Errorf("unsupported platform re-probed: %d probes, want 1", got)
	}
	if absent.AttestCalls() != 0 {
		t.Error("evidence generation ran on an unsupported platform")
	}
}

func TestDetectorReset(t *testing.T) {
	b := &fake.Attester{Kind: attester.CSV}
	d := attester.NewDetector(b)

	if _, err := d.GenerateEvidence(context.Background(), nil); !errors.Is(err, attester.ErrPlatformNotSupported) {
		t.Fatalf("GenerateEvidence() = %v, want ErrPlatformNotSupported", err)
	}

	// Hardware shows up after the fact; only an explicit Reset may notice.
	b.Present = true
	b.Quote = []byte("quote")
	if _, err := d.GenerateEvidence(context.Background(), nil); !errors.Is(err, attester.ErrPlatformNotSupported) {
		t.Fatalf("cached decision not honored: %v", err)
	}

	d.Reset()
	ev, err := d.GenerateEvidence(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateEvidence() after Reset failed: %v", err)
	}
	if ev.TeeType != attester.CSV {
		t.Errorf("bound to %q after Reset, want %q", ev.TeeType, attester.CSV)
	}
	if got := b.DetectCalls(); got != 2 {
		t.Errorf("probed %d times across a Reset, want 2", got)
	}
}

func TestDetectorRejectsOversizedChallenge(t *testing.T) {
	b := fake.New(attester.TDX, []byte("quote"))
	b.MaxLen = 8
	d := attester.NewDetector(b)

	_, err := d.GenerateEvidence(context.Background(), bytes.Repeat([]byte{0xaa}, 9))
	var sizeErr *attester.ChallengeSizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("GenerateEvidence() = %v, want a ChallengeSizeError", err)
	}
	if sizeErr.TeeType != attester.TDX || sizeErr.Len != 9 || sizeErr.Max != 8 {
		t.Errorf("got %+v, want {TeeType: tdx, Len: 9, Max: 8}", sizeErr)
	}
	if b.AttestCalls() != 0 {
		t.Error("oversized challenge reached the backend")
	}
}

func TestActiveTee(t *testing.T) {
	d := attester.NewDetector(
		&fake.Attester{Kind: attester.TDX},
		fake.New(attester.AzSnpVtpm, nil),
	)
	kind, ok := d.ActiveTee()
	if !ok || kind != attester.AzSnpVtpm {
		t.Errorf("ActiveTee() = %q, %t, want %q, true", kind, ok, attester.AzSnpVtpm)
	}

	none := attester.NewDetector(&fake.Attester{Kind: attester.TDX})
	if kind, ok := none.ActiveTee(); ok {
		t.Errorf("ActiveTee() = %q, true on an unsupported platform, want false", kind)
	}
}

func TestBackendErrorsPropagate(t *testing.T) {
	devErr := &attester.DeviceError{TeeType: attester.SevSnp, Path: "/dev/sev-guest", Err: errors.New("ioctl failed")}
	b := fake.New(attester.SevSnp, nil)
	b.Err = devErr
	d := attester.NewDetector(b)

	ev, err := d.GenerateEvidence(context.Background(), nil)
	if ev != nil {
		t.Errorf("got a partial envelope %+v alongside an error", ev)
	}
	var got *attester.DeviceError
	if !errors.As(err, &got) || got.TeeType != attester.SevSnp {
		t.Errorf("GenerateEvidence() = %v, want the backend's DeviceError", err)
	}
}

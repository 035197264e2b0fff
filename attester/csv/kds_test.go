package csv

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-tee-guest/attester"
)

// kdsServer serves status codes from script in order, then the chain with a
// 200 once the script runs out.
func kdsServer(t *testing.T, chain []byte, script ...int) (*httptest.Server, *int) {
	t.Helper()
	requests := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != hskCekPath {
			t.Errorf("request for %q, want %q", got, hskCekPath)
		}
		i := *requests
		*requests++
		if i < len(script) {
			w.WriteHeader(script[i])
			return
		}
		w.Write(chain)
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func testFetcher(endpoint string) *CertFetcher {
	f := NewCertFetcher()
	f.Endpoint = endpoint
	f.Interval = 0
	return f
}

func TestFetchChain(t *testing.T) {
	chain := []byte("-----BEGIN CERTIFICATE-----")
	srv, requests := kdsServer(t, chain)

	got, err := testFetcher(srv.URL).FetchChain(context.Background(), "HYGON-CHIP-01")
	if err != nil {
		t.Fatalf("FetchChain() failed: %v", err)
	}
	if !bytes.Equal(got, chain) {
		t.Errorf("FetchChain() = %q, want %q", got, chain)
	}
	if *requests != 1 {
		t.Errorf("issued %d requests, want 1", *requests)
	}
}

func TestFetchChainRetriesServerErrors(t *testing.T) {
	chain := []byte("chain")
	srv, requests := kdsServer(t, chain, http.StatusInternalServerError, http.StatusServiceUnavailable)

	got, err := testFetcher(srv.URL).FetchChain(context.Background(), "HYGON-CHIP-01")
	if err != nil {
		t.Fatalf("FetchChain() failed: %v", err)
	}
	if !bytes.Equal(got, chain) {
		t.Errorf("FetchChain() = %q, want %q", got, chain)
	}
	if *requests != 3 {
		t.Errorf("issued %d requests, want 3 (two failures, one success)", *requests)
	}
}

func TestFetchChainExhaustsRetries(t *testing.T) {
	srv, requests := kdsServer(t, nil,
		http.StatusInternalServerError, http.StatusInternalServerError,
		http.StatusInternalServerError, http.StatusInternalServerError,
		http.StatusInternalServerError)

	_, err := testFetcher(srv.URL).FetchChain(context.Background(), "HYGON-CHIP-01")
	var fetchErr *attester.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("FetchChain() = %v, want a FetchError", err)
	}
	if fetchErr.TeeType != attester.CSV {
		t.Errorf("FetchError names %q, want %q", fetchErr.TeeType, attester.CSV)
	}
	if *requests != 4 || fetchErr.Attempts != 4 {
		t.Errorf("issued %d requests and reported %d, want 4 (first try plus 3 retries)", *requests, fetchErr.Attempts)
	}
}

func TestFetchChainClientErrorIsPermanent(t *testing.T) {
	srv, requests := kdsServer(t, nil, http.StatusNotFound, http.StatusNotFound)

	_, err := testFetcher(srv.URL).FetchChain(context.Background(), "UNKNOWN-CHIP")
	var fetchErr *attester.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("FetchChain() = %v, want a FetchError", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("FetchChain() = %v, want to surface the 404", err)
	}
	if *requests != 1 {
		t.Errorf("retried a client error: %d requests, want 1", *requests)
	}
}

func TestFetchChainRejectsEmptyBody(t *testing.T) {
	srv, requests := kdsServer(t, nil)

	_, err := testFetcher(srv.URL).FetchChain(context.Background(), "HYGON-CHIP-01")
	var fetchErr *attester.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("FetchChain() = %v, want a FetchError", err)
	}
	if *requests != 1 {
		t.Errorf("retried an empty chain: %d requests, want 1", *requests)
	}
}

func TestFetchChainHonorsCancellation(t *testing.T) {
	srv, requests := kdsServer(t, nil,
		http.StatusInternalServerError, http.StatusInternalServerError,
		http.StatusInternalServerError, http.StatusInternalServerError)

	ctx, cancel := context.WithCancel(context.Background())
	f := testFetcher(srv.URL)
	f.Getter = &cancellingGetter{next: &httpGetter{client: srv.Client()}, cancel: cancel}

	_, err := f.FetchChain(ctx, "HYGON-CHIP-01")
	if err == nil {
		t.Fatal("FetchChain() succeeded after cancellation")
	}
	if *requests != 1 {
		t.Errorf("kept retrying after cancellation: %d requests, want 1", *requests)
	}
}

// cancellingGetter cancels the request context after the first attempt, as
// if the caller gave up mid-retry.
type cancellingGetter struct {
	next   Getter
	cancel context.CancelFunc
}

func (g *cancellingGetter) Get(ctx context.Context, url string) ([]byte, error) {
	defer g.cancel()
	return g.next.Get(ctx, url)
}

func TestFetcherDefaults(t *testing.T) {
	f := NewCertFetcher()
	if f.Endpoint != defaultEndpoint {
		t.Errorf("Endpoint = %q, want %q", f.Endpoint, defaultEndpoint)
	}
	if f.Timeout != defaultTimeout || f.MaxRetries != defaultMaxRetries || f.Interval != defaultInterval {
		t.Errorf("retry policy = {%v %d %v}, want {%v %d %v}",
			f.Timeout, f.MaxRetries, f.Interval, defaultTimeout, defaultMaxRetries, defaultInterval)
	}
}

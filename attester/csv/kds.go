package csv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/logger"

	"github.com/google/go-tee-guest/attester"
)

// Hygon's key distribution service serves the HSK and CEK certificates for
// a chip serial number as a single blob.
const (
	defaultEndpoint   = "https://cert.hygon.cn"
	hskCekPath        = "/hsk_cek"
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultInterval   = 300 * time.Millisecond
)

// Getter fetches the body behind an HTTPS URL. Tests substitute canned
// responses for the default net/http implementation.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// StatusError reports a non-2xx HTTP response. Custom Getter
// implementations should return it so retry classification can tell client
// errors from transient server failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// CertFetcher retrieves Hygon certificate chains with bounded retries.
// NewCertFetcher fills in production defaults; fields may be adjusted
// before first use.
type CertFetcher struct {
	// Endpoint is the base URL of the key distribution service.
	Endpoint string
	// Timeout bounds each individual attempt. Zero means no per-attempt
	// bound beyond the caller's context.
	Timeout time.Duration
	// MaxRetries is how many times a transient failure is retried after
	// the first attempt.
	MaxRetries uint64
	// Interval is the pause between attempts.
	Interval time.Duration
	// Getter issues the requests. Nil means a default HTTP client.
	Getter Getter
}

// NewCertFetcher returns a fetcher for Hygon's public key distribution
// service.
func NewCertFetcher() *CertFetcher {
	return &CertFetcher{
		Endpoint:   defaultEndpoint,
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		Interval:   defaultInterval,
	}
}

// FetchChain downloads the HSK and CEK chain for the chip that signed a
// report. Connection errors, timeouts and HTTP 5xx responses are retried
// up to MaxRetries times; HTTP 4xx responses and empty bodies abort
// immediately. Cancelling ctx stops the retry loop.
func (f *CertFetcher) FetchChain(ctx context.Context, chipID string) ([]byte, error) {
	u := f.Endpoint + hskCekPath + "?snumber=" + url.QueryEscape(chipID)

	getter := f.Getter
	if getter == nil {
		getter = &httpGetter{client: http.DefaultClient}
	}

	var chain []byte
	attempts := 0
	op := func() error {
		attempts++
		attemptCtx := ctx
		if f.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, f.Timeout)
			defer cancel()
		}
		body, err := getter.Get(attemptCtx, u)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(body) == 0 {
			return backoff.Permanent(errors.New("service returned an empty chain"))
		}
		chain = body
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(f.Interval), f.MaxRetries), ctx)
	notify := func(err error, _ time.Duration) {
		logger.Warningf("Retrying Hygon certificate chain fetch: %v", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, &attester.FetchError{TeeType: attester.CSV, URL: u, Attempts: attempts, Err: err}
	}
	return chain, nil
}

type httpGetter struct {
	client *http.Client
}

func (g *httpGetter) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FetchConfig bounds remote downloads.
type FetchConfig struct {
	MaxBytes          int64
	Timeout           time.Duration
	MaxElapsed        time.Duration
	AllowPrivateHosts bool
}

// Download is a fetched remote file.
type Download struct {
	Data     []byte
	MimeType string
}

// Downloader fetches remote assets.
type Downloader interface {
	Fetch(ctx context.Context, rawURL string) (*Download, error)
}

// Fetcher downloads assets over HTTP with size limits, host blocking and
// retry of transient failures.
type Fetcher struct {
	client *http.Client
	cfg    FetchConfig
}

var errTooManyRedirects = errors.New("too many redirects (max 5)")

// NewFetcher returns a Fetcher with defaults filled in.
func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 32 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = time.Minute
	}
	f := &Fetcher{cfg: cfg}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errTooManyRedirects
			}
			return f.checkHost(req.URL.Hostname())
		},
	}
	return f
}

// Fetch downloads rawURL. Client errors and policy violations are not retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := f.checkHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.cfg.MaxElapsed

	var out *Download
	err = backoff.Retry(func() error {
		d, err := f.get(ctx, rawURL)
		if err != nil {
			return err
		}
		out = d
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) || errors.Is(err, errBlockedHost) {
			return nil, backoff.Permanent(fmt.Errorf("download failed: %w", err))
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, backoff.Permanent(fmt.Errorf("file too large: exceeds %d bytes", f.cfg.MaxBytes))
	}

	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if mime == "" || mime == "application/octet-stream" {
		mime = strings.Split(http.DetectContentType(data), ";")[0]
	}
	return &Download{Data: data, MimeType: mime}, nil
}

var errBlockedHost = errors.New("blocked host")

// checkHost rejects loopback and cloud metadata addresses.
func (f *Fetcher) checkHost(host string) error {
	if f.cfg.AllowPrivateHosts {
		return nil
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", errBlockedHost, host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("%w: loopback address %s", errBlockedHost, host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("%w: cloud metadata address %s", errBlockedHost, host)
	}
	return nil
}

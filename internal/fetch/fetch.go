// Package fetch implements the Fetcher component named in spec.md §4.3: a
// retrying HTTP client that classifies failures as transient or permanent
// and computes every configured digest in the same pass it streams the body
// to disk.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/zextras/reposync/internal/httputil"
	"github.com/zextras/reposync/pkg/tmp"
	"github.com/zextras/reposync/reposync"
)

// ErrTransient marks an error as retryable: connect/read timeouts, 5xx
// responses, connection resets.
var ErrTransient = errors.New("fetch: transient error")

// ErrPermanent marks an error as not worth retrying: 4xx responses other
// than 408/429, TLS failures, malformed responses.
var ErrPermanent = errors.New("fetch: permanent error")

// Credentials resolves HTTP basic-auth for a fetch. Exactly one of User or
// File should be meaningful at a time; File, when set, is read fresh on
// every request and takes precedence over an inline User/Pass, per
// spec.md §9's resolution of that open question.
type Credentials struct {
	User string
	Pass string
	File string // path to a "user:password" file
}

func (c Credentials) resolve() (user, pass string, err error) {
	if c.File != "" {
		b, err := os.ReadFile(c.File)
		if err != nil {
			return "", "", fmt.Errorf("%w: reading credentials file: %v", ErrPermanent, err)
		}
		line := strings.TrimSpace(string(b))
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return "", "", fmt.Errorf("%w: malformed credentials file %q", ErrPermanent, c.File)
		}
		return line[:i], line[i+1:], nil
	}
	return c.User, c.Pass, nil
}

// Result is the outcome of a successful Fetch: a spooled, seekable copy of
// the body plus every digest computed while streaming it.
type Result struct {
	File    *tmp.File
	Size    int64
	Digests reposync.DigestSet
}

// Fetcher is the interface internal/aptidx, internal/rpmidx, and
// internal/executor depend on, so tests can substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, url string, algos []reposync.Algorithm) (*Result, error)
}

// HTTPFetcher is the production Fetcher: retries transient failures up to
// MaxRetries with RetrySleep between attempts, and supports inline or
// file-based basic-auth.
type HTTPFetcher struct {
	Client     *http.Client
	Creds      Credentials
	TmpDir     string
	Timeout    time.Duration
	MaxRetries int
	RetrySleep time.Duration
}

var _ Fetcher = (*HTTPFetcher)(nil)

// Fetch downloads url, classifying failures per spec.md §4.3 and retrying
// transient ones up to MaxRetries times with RetrySleep between attempts.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, algos []reposync.Algorithm) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "fetch/HTTPFetcher.Fetch", "url", rawURL)

	var lastErr error
	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			zlog.Debug(ctx).Int("attempt", attempt).Err(lastErr).Msg("retrying after transient error")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.RetrySleep):
			}
		}
		res, err := f.fetchOnce(ctx, rawURL, algos)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetch: exhausted %d retries: %w", f.MaxRetries, lastErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string, algos []reposync.Algorithm) (*Result, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if user, pass, err := f.Creds.resolve(); err != nil {
		return nil, err
	} else if user != "" {
		req.SetBasicAuth(user, pass)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(resp, http.StatusOK); err != nil {
		return nil, classifyStatus(resp.StatusCode, err)
	}

	hashers := make(map[reposync.Algorithm]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, a := range algos {
		h := a.New()
		if h == nil {
			continue
		}
		hashers[a] = h
		writers = append(writers, h)
	}

	tf, err := tmp.NewFile(f.TmpDir, "reposync-fetch-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("fetch: creating spool file: %w", err)
	}
	writers = append(writers, tf.File)
	mw := io.MultiWriter(writers...)

	success := false
	defer func() {
		if !success {
			tf.Close()
		}
	}()

	n, err := io.Copy(mw, resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if _, err := tf.File.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("fetch: seeking spool file: %w", err)
	}

	set := make(reposync.DigestSet, 0, len(hashers))
	for a, h := range hashers {
		set = append(set, reposync.Digest{Algo: a, Checksum: h.Sum(nil)})
	}

	success = true
	return &Result{File: tf, Size: n, Digests: set}, nil
}

func classifyTransport(err error) error {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	var alertErr tls.AlertError
	if errors.As(err, &certErr) || errors.As(err, &recErr) || errors.As(err, &alertErr) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	case code >= 500:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	case code >= 400:
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	default:
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
}

// ContentLength is a small helper used by callers that want to sanity-check
// a declared index size against the Content-Length header before streaming.
func ContentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

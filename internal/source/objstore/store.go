// Package objstore implements the stateless range-read extractor and the
// raw-storage loader over a small object-store surface. The bundled
// implementation speaks HTTP (Range GET / HEAD / PUT); tests inject fakes.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Zaur86/etl-mini/internal/errs"
)

// Store is the object-store boundary: size/existence probing, ranged
// reads, and whole-object writes. Unlike the scroll extractor there is no
// server-side cursor: every read names its own byte range.
type Store interface {
	// Head returns the object size, or found=false when the key does not
	// exist. Connectivity and auth failures are errors.
	Head(ctx context.Context, key string) (size int64, found bool, err error)
	// GetRange reads length bytes starting at off. Reading past the end
	// returns the available tail.
	GetRange(ctx context.Context, key string, off, length int64) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body []byte) error
	Close() error
}

// httpStore reaches objects as URLs under a base prefix.
type httpStore struct {
	base *url.URL
	hc   *http.Client
}

// newHTTPStore is a test hook replacing the store constructor.
var newHTTPStore = func(baseURL string, timeout time.Duration) (Store, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.Config("invalid object store base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpStore{base: u, hc: &http.Client{Timeout: timeout}}, nil
}

// NewStore opens the HTTP-backed store for baseURL.
func NewStore(baseURL string, timeout time.Duration) (Store, error) {
	return newHTTPStore(baseURL, timeout)
}

func (s *httpStore) keyURL(key string) string {
	u := *s.base
	u.Path, _ = url.JoinPath(u.Path, key)
	return u.String()
}

func (s *httpStore) Head(ctx context.Context, key string) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.keyURL(key), nil)
	if err != nil {
		return 0, false, errs.Source("objstore", err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return 0, false, errs.Source("objstore", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.ContentLength, true, nil
	case http.StatusNotFound:
		return 0, false, nil
	default:
		return 0, false, errs.Source("objstore", fmt.Errorf("head %q returned %s", key, resp.Status))
	}
}

func (s *httpStore) GetRange(ctx context.Context, key string, off, length int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.keyURL(key), nil)
	if err != nil {
		return nil, errs.Source("objstore", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, errs.Source("objstore", err)
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.Source("objstore", fmt.Errorf("range get %q returned %s", key, resp.Status))
	}
	// Servers ignoring Range reply 200 with the full body; skip and cap so
	// the chunk contract (off..off+length) still holds.
	if resp.StatusCode == http.StatusOK {
		if off > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil && err != io.EOF {
				resp.Body.Close()
				return nil, errs.Source("objstore", err)
			}
		}
		return readCloser{io.LimitReader(resp.Body, length), resp.Body}, nil
	}
	return resp.Body, nil
}

func (s *httpStore) Put(ctx context.Context, key string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.keyURL(key), bytes.NewReader(body))
	if err != nil {
		return errs.Source("objstore", err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return errs.Source("objstore", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errs.Source("objstore", fmt.Errorf("put %q returned %s", key, resp.Status))
	}
	return nil
}

func (s *httpStore) Close() error {
	s.hc.CloseIdleConnections()
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

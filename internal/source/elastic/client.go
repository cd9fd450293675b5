package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// Page is one pull's worth of hits plus the refreshed cursor token.
type Page struct {
	ScrollID string
	Hits     records.Batch
}

// SearchAPI is the minimal wire surface the extractor needs. The production
// implementation is httpAPI; tests inject fakes.
type SearchAPI interface {
	Ping(ctx context.Context) error
	IndexExists(ctx context.Context, index string) (bool, error)
	Search(ctx context.Context, index string, body []byte, keepAlive string, size int) (*Page, error)
	Scroll(ctx context.Context, scrollID, keepAlive string) (*Page, error)
	ClearScroll(ctx context.Context, scrollID string) error
	Close() error
}

// httpAPI speaks the search/scroll JSON protocol over net/http.
type httpAPI struct {
	base     *url.URL
	hc       *http.Client
	username string
	password string
}

func newHTTPAPI(baseURL, username, password string, timeout time.Duration) (*httpAPI, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.Config("invalid search base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpAPI{
		base:     u,
		hc:       &http.Client{Timeout: timeout},
		username: username,
		password: password,
	}, nil
}

func (a *httpAPI) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := *a.base
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}
	return a.hc.Do(req)
}

func (a *httpAPI) Ping(ctx context.Context) error {
	resp, err := a.do(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return errs.Source("elasticsearch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Source("elasticsearch", fmt.Errorf("ping returned %s", resp.Status))
	}
	return nil
}

func (a *httpAPI) IndexExists(ctx context.Context, index string) (bool, error) {
	resp, err := a.do(ctx, http.MethodHead, "/"+index, nil, nil)
	if err != nil {
		return false, errs.Source("elasticsearch", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errs.Source("elasticsearch", fmt.Errorf("index check returned %s", resp.Status))
	}
}

func (a *httpAPI) Search(ctx context.Context, index string, body []byte, keepAlive string, size int) (*Page, error) {
	q := url.Values{}
	q.Set("scroll", keepAlive)
	q.Set("size", strconv.Itoa(size))
	resp, err := a.do(ctx, http.MethodPost, "/"+index+"/_search", q, json.RawMessage(body))
	if err != nil {
		return nil, errs.Source("elasticsearch", err)
	}
	return decodePage(resp)
}

func (a *httpAPI) Scroll(ctx context.Context, scrollID, keepAlive string) (*Page, error) {
	resp, err := a.do(ctx, http.MethodPost, "/_search/scroll", nil, map[string]any{
		"scroll":    keepAlive,
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, errs.Source("elasticsearch", err)
	}
	return decodePage(resp)
}

func (a *httpAPI) ClearScroll(ctx context.Context, scrollID string) error {
	resp, err := a.do(ctx, http.MethodDelete, "/_search/scroll", nil, map[string]any{
		"scroll_id": []string{scrollID},
	})
	if err != nil {
		return errs.Source("elasticsearch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return errs.Source("elasticsearch", fmt.Errorf("clear scroll returned %s", resp.Status))
	}
	return nil
}

// Close releases idle connections; the protocol itself is stateless apart
// from the server-side scroll context, which ClearScroll handles.
func (a *httpAPI) Close() error {
	a.hc.CloseIdleConnections()
	return nil
}

func decodePage(resp *http.Response) (*Page, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errs.Source("elasticsearch", fmt.Errorf("search returned %s: %s", resp.Status, raw))
	}
	var out struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Hits []map[string]any `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Source("elasticsearch", fmt.Errorf("decode search response: %w", err))
	}
	batch := make(records.Batch, len(out.Hits.Hits))
	for i, h := range out.Hits.Hits {
		batch[i] = h
	}
	return &Page{ScrollID: out.ScrollID, Hits: batch}, nil
}

package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/livepeer/transcode-worker/log"
	"github.com/livepeer/transcode-worker/metrics"
)

// WebDAV is the HTTP-backed Workspace. No third-party WebDAV client covers
// the MKCOL/DELETE/HEAD/GET/PUT surface this package needs, so it speaks
// the protocol directly over net/http, wrapped with go-retryablehttp for
// connect/request timeouts and transport-level retries.
type WebDAV struct {
	base       *url.URL
	httpClient *http.Client
	cfg        Config
}

// NewWebDAV builds a WebDAV workspace rooted at base. secure selects
// https over http; base's own dav/davs scheme is replaced here.
func NewWebDAV(base *url.URL, cfg Config, secure bool) *WebDAV {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	root := *base
	root.Scheme = scheme

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient.Timeout = cfg.RequestTimeout

	return &WebDAV{
		base:       &root,
		httpClient: client.StandardClient(),
		cfg:        cfg,
	}
}

func (w *WebDAV) resolve(r Resource) *url.URL {
	u := *w.base
	parts := append([]string{strings.TrimSuffix(u.Path, "/")}, r.PathParts()...)
	u.Path = strings.Join(parts, "/")
	if r.IsCollection() && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &u
}

func (w *WebDAV) do(ctx context.Context, method string, u *url.URL, body io.Reader) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout+w.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("webdav: building %s request: %w", method, err)
	}
	resp, err := w.httpClient.Do(req)
	outcome := "ok"
	if err != nil {
		outcome = "transport_error"
	} else if resp.StatusCode >= 300 {
		outcome = fmt.Sprintf("http_%dxx", resp.StatusCode/100)
	}
	metrics.Metrics.WorkspaceOperations.WithLabelValues("webdav", method, outcome).Inc()
	return resp, err
}

func (w *WebDAV) EnsureCollection(ctx context.Context, relativePath string) (string, error) {
	c := NewCollection(splitPath(relativePath)...)
	if err := w.CreateCollection(ctx, c); err != nil {
		return "", err
	}
	return w.AbsoluteURI(c), nil
}

// CreateCollection issues MKCOL against every ancestor of c in order, since
// WebDAV servers require each parent to already exist.
func (w *WebDAV) CreateCollection(ctx context.Context, c Collection) error {
	parts := c.PathParts()
	cur := Root()
	if err := w.mkcol(ctx, cur); err != nil {
		return err
	}
	for _, p := range parts {
		cur = cur.Collection(p)
		if err := w.mkcol(ctx, cur); err != nil {
			return err
		}
	}
	return nil
}

// mkcol treats 405 (Method Not Allowed, collection already exists) as
// success and 409 (Conflict, a parent exists as a non-collection) as
// failure, per the WebDAV MKCOL contract this workspace is built against.
func (w *WebDAV) mkcol(ctx context.Context, c Collection) error {
	u := w.resolve(c)
	resp, err := w.do(ctx, "MKCOL", u, nil)
	if err != nil {
		return fmt.Errorf("webdav: mkcol %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("webdav: mkcol %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
}

func (w *WebDAV) DeleteCollection(ctx context.Context, c Collection) error {
	u := w.resolve(c)
	resp, err := w.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("webdav: delete %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		log.LogNoRequestID("delete_collection: collection already missing", "uri", u.Redacted())
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webdav: delete %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	return nil
}

func (w *WebDAV) Exists(ctx context.Context, r Resource) (bool, error) {
	u := w.resolve(r)
	resp, err := w.do(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, fmt.Errorf("webdav: head %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("webdav: head %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	return true, nil
}

func (w *WebDAV) Read(ctx context.Context, f File) ([]byte, error) {
	u := w.resolve(f)
	var content []byte
	op := func() error {
		resp, err := w.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webdav: get %s: unexpected status %d", u.Redacted(), resp.StatusCode)
		}
		content, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		return nil, fmt.Errorf("webdav: read %s: %w", u.Redacted(), err)
	}
	return content, nil
}

func (w *WebDAV) Write(ctx context.Context, f File, content []byte) error {
	u := w.resolve(f)
	resp, err := w.do(ctx, http.MethodPut, u, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("webdav: put %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webdav: put %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	return nil
}

func (w *WebDAV) AbsoluteURI(r Resource) string {
	return w.resolve(r).String()
}

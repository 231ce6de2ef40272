// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// UserAgent is sent with document downloads.
const UserAgent = "msmapper/0.1"

// Remote describes a document being streamed from a URL.
type Remote struct {
	// Name is the last path segment of the final URL after redirects.
	Name string

	// MediaType is the response Content-Type without parameters, empty
	// when the server sent none.
	MediaType string

	// Size is the Content-Length, or -1 when unknown.
	Size int64

	// Body streams the document. The caller closes it.
	Body io.ReadCloser
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Get starts downloading rawURL and returns its body for streaming.
// Non-2xx responses become *StatusError. The client handles redirects.
func Get(ctx context.Context, client *http.Client, rawURL string) (*Remote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	r := &Remote{Name: remoteName(resp.Request.URL), Size: resp.ContentLength, Body: resp.Body}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			r.MediaType = mt
		}
	}
	return r, nil
}

func remoteName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return u.Host
	}
	return name
}

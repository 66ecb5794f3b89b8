package webfile

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var ErrRequest = errors.New("request failed")

const defaultTimeout = 10 * time.Second

// Fetcher downloads a file served over http, e.g. a shared blocklist.
type Fetcher struct {
	url     string
	headers map[string]string
	cl      http.Client
}

func NewFetcher(url string, headers map[string]string) *Fetcher {
	return &Fetcher{url: url, headers: headers, cl: http.Client{Timeout: defaultTimeout}}
}

func (f *Fetcher) URL() string {
	return f.url
}

func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := f.cl.Do(httpReq)
	if err != nil {
		return nil, err
	}
	bts, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Wrapf(ErrRequest, "status code %d", resp.StatusCode)
	}
	return bts, nil
}

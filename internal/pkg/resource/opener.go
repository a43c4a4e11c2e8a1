package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/zpiroux/csv2json/entity"
)

const userAgent = "csv2json"

// Opener opens the resource located by a validated URL. Failures are returned wrapping
// entity.ErrResourceUnavailable. The caller closes the returned stream.
type Opener interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// DefaultOpener opens http(s) resources with its HTTP client (http.DefaultClient if nil)
// and file resources from the local file system.
type DefaultOpener struct {
	Client *http.Client
}

func (o *DefaultOpener) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	switch u.Scheme {
	case SchemeFile:
		f, err := os.Open(FilePath(u))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrResourceUnavailable, err)
		}
		return f, nil
	case SchemeHttp, SchemeHttps:
		return o.get(ctx, u)
	}
	return nil, fmt.Errorf("%w: unsupported scheme %q", entity.ErrInvalidInput, u.Scheme)
}

func (o *DefaultOpener) get(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/csv, text/plain, */*")

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrResourceUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s returned status %s", entity.ErrResourceUnavailable, u.Redacted(), resp.Status)
	}
	return resp.Body, nil
}

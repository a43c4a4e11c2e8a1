// Package resource locates and opens the CSV resources referenced by inbound messages.
package resource

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/zpiroux/csv2json/entity"
)

const (
	SchemeHttp  = "http"
	SchemeHttps = "https"
	SchemeFile  = "file"
)

// PayloadURL returns the resource locator carried by an inbound message payload. Payloads are
// plain UTF-8 URL strings, but some producers send them JSON encoded, i.e. quoted, which is
// also accepted.
func PayloadURL(payload []byte) string {
	if gjson.ValidBytes(payload) {
		if result := gjson.ParseBytes(payload); result.Type == gjson.String {
			return strings.TrimSpace(result.Str)
		}
	}
	return strings.TrimSpace(string(payload))
}

// ParseURL validates the locator. Only http, https and file schemes are supported, http(s)
// URLs need a host and file URLs a path. Errors wrap entity.ErrInvalidInput.
func ParseURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty URL", entity.ErrInvalidInput)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)

	switch u.Scheme {
	case SchemeHttp, SchemeHttps:
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host in URL %q", entity.ErrInvalidInput, rawURL)
		}
	case SchemeFile:
		if FilePath(u) == "" {
			return nil, fmt.Errorf("%w: missing path in URL %q", entity.ErrInvalidInput, rawURL)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme in URL %q", entity.ErrInvalidInput, rawURL)
	}
	return u, nil
}

// FilePath returns the local path of a file URL, including opaque ones like file:data.csv
func FilePath(u *url.URL) string {
	if u.Path != "" {
		return u.Path
	}
	return u.Opaque
}

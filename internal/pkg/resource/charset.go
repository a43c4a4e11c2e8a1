package resource

import (
	"fmt"
	"io"

	"github.com/zpiroux/csv2json/entity"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Charset returns the encoding with the provided name or label, e.g. "UTF-8", "latin1" or
// "windows-1252". Unknown names return an error wrapping entity.ErrConfiguration.
func Charset(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported charset %q", entity.ErrConfiguration, name)
	}
	return enc, nil
}

// Decode returns a reader converting r from enc to UTF-8. A leading byte order mark
// overrides enc and is removed.
func Decode(r io.Reader, enc encoding.Encoding) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))
}

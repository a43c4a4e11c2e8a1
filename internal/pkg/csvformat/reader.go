package csvformat

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zpiroux/csv2json/entity"
)

const byteOrderMark = "\uFEFF"

type recordReader interface {
	Read() ([]string, error)
}

// Reader is a forward-only iterator over the data records of a CSV resource, keyed by its
// header record. The first record is always regarded as the header.
// Empty lines are skipped in every dialect, Excel included, so they never produce a row.
type Reader struct {
	records recordReader
	format  Format
	header  []string
	number  int
	done    bool
}

// NewReader creates a reader for the format and reads the header record. A resource without
// any records is not an error; Next will directly return io.EOF.
func NewReader(r io.Reader, format Format) (*Reader, error) {
	reader := &Reader{
		format:  format,
		records: newEscapedReader(r, format),
	}

	header, err := reader.records.Read()
	if err == io.EOF {
		reader.done = true
		return reader, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	header = reader.values(header)
	header[0] = strings.TrimPrefix(header[0], byteOrderMark)
	seen := make(map[string]bool, len(header))
	for _, name := range header {
		if name != "" && seen[name] {
			return nil, fmt.Errorf("%w: duplicate header name %q", entity.ErrParse, name)
		}
		seen[name] = true
	}
	reader.header = header
	return reader, nil
}

// Header returns the header record
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next data record as a Row, or io.EOF if there are no more records.
// Values beyond the header length are dropped. Structural CSV errors wrap entity.ErrParse
// and I/O errors wrap entity.ErrResourceUnavailable. After any error the reader is done.
func (r *Reader) Next() (entity.Row, error) {
	if r.done {
		return entity.Row{}, io.EOF
	}
	record, err := r.records.Read()
	if err != nil {
		r.done = true
		if err == io.EOF {
			return entity.Row{}, io.EOF
		}
		return entity.Row{}, classify(err)
	}
	if len(record) > len(r.header) {
		record = record[:len(r.header)]
	}
	r.number++
	return entity.Row{
		Number: r.number,
		Header: r.header,
		Values: r.values(record),
	}, nil
}

func (r *Reader) values(record []string) []string {
	for i, v := range record {
		if r.format.TrimSpace {
			v = strings.TrimSpace(v)
		}
		if r.format.HasNullString && v == r.format.NullString {
			v = ""
		}
		record[i] = v
	}
	return record
}

func classify(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %v", entity.ErrParse, err)
	}
	return fmt.Errorf("%w: error reading resource: %v", entity.ErrResourceUnavailable, err)
}

package csvformat

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

var (
	errEscapeAtEOF   = errors.New("escape character at end of input")
	errUnterminated  = errors.New("unterminated quoted field")
	errQuoteInField  = errors.New("unexpected character after closing quote")
	errInvalidEscape = errors.New("invalid escape sequence")
)

// escapedReader reads the records of all dialects. A quote character is only special at the
// start of a field; elsewhere it is kept as a literal. Inside a quoted field a doubled quote
// is a literal quote and a closing quote must be followed by a delimiter or line break.
// An escape character, if the dialect has one, is honored both inside and outside quotes.
// Errors in the record structure are returned as *csv.ParseError.
type escapedReader struct {
	r      *bufio.Reader
	format Format
	line   int
	col    int
	field  strings.Builder
}

func newEscapedReader(r io.Reader, format Format) *escapedReader {
	if format.Escape == format.Quote {
		// Escaping with the quote character is plain quote doubling
		format.Escape = 0
	}
	return &escapedReader{
		r:      bufio.NewReader(r),
		format: format,
		line:   1,
	}
}

// Read returns the next record, skipping empty lines, or io.EOF when there are no more.
func (e *escapedReader) Read() ([]string, error) {
	for {
		c, err := e.readRune()
		if err != nil {
			return nil, err
		}
		if e.isNewline(c) {
			continue
		}
		e.unreadRune()
		return e.readRecord()
	}
}

func (e *escapedReader) readRecord() ([]string, error) {
	var record []string
	startLine := e.line
	for {
		e.field.Reset()
		end, err := e.readField(startLine)
		if err != nil {
			return nil, err
		}
		record = append(record, e.field.String())
		if end {
			return record, nil
		}
	}
}

// readField reads a single field into e.field and reports if it was the last one of the record.
func (e *escapedReader) readField(startLine int) (endOfRecord bool, err error) {
	c, err := e.readRune()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	for e.isBlank(c) {
		// Kept in the field in case it turns out unquoted, trimmed later by the Reader
		e.field.WriteRune(c)
		if c, err = e.readRune(); err == io.EOF {
			return true, nil
		} else if err != nil {
			return false, err
		}
	}
	if e.format.Quote != 0 && c == e.format.Quote {
		e.field.Reset()
		return e.readQuoted(startLine)
	}
	e.unreadRune()
	return e.readUnquoted(startLine)
}

func (e *escapedReader) readUnquoted(startLine int) (bool, error) {
	for {
		c, err := e.readRune()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		switch {
		case c == e.format.Delimiter:
			return false, nil
		case e.isNewline(c):
			return true, nil
		case e.format.Escape != 0 && c == e.format.Escape:
			if err := e.readEscaped(startLine); err != nil {
				return false, err
			}
		default:
			e.field.WriteRune(c)
		}
	}
}

func (e *escapedReader) readQuoted(startLine int) (bool, error) {
	for {
		c, err := e.readRune()
		if err == io.EOF {
			return false, e.parseError(startLine, errUnterminated)
		}
		if err != nil {
			return false, err
		}
		switch {
		case e.format.Escape != 0 && c == e.format.Escape:
			if err := e.readEscaped(startLine); err != nil {
				return false, err
			}
		case c == e.format.Quote:
			next, err := e.readRune()
			if err == io.EOF {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			if next == e.format.Quote {
				e.field.WriteRune(next)
				continue
			}
			for e.isBlank(next) {
				if next, err = e.readRune(); err == io.EOF {
					return true, nil
				} else if err != nil {
					return false, err
				}
			}
			switch {
			case next == e.format.Delimiter:
				return false, nil
			case e.isNewline(next):
				return true, nil
			default:
				return false, e.parseError(startLine, errQuoteInField)
			}
		default:
			if c == '\n' {
				e.line++
				e.col = 0
			}
			e.field.WriteRune(c)
		}
	}
}

// readEscaped handles the character following an escape character. Control character
// mnemonics are translated, the dialect's own special characters are taken literally and
// any other character is kept together with the escape character, so that e.g. the \N null
// marker survives for null string matching.
func (e *escapedReader) readEscaped(startLine int) error {
	c, err := e.readRune()
	if err == io.EOF {
		return e.parseError(startLine, errEscapeAtEOF)
	}
	if err != nil {
		return err
	}
	switch c {
	case 'n':
		e.field.WriteByte('\n')
	case 'r':
		e.field.WriteByte('\r')
	case 't':
		e.field.WriteByte('\t')
	case 'b':
		e.field.WriteByte('\b')
	case 'f':
		e.field.WriteByte('\f')
	case '\r', '\n', '\t', '\b', '\f':
		if c == '\n' {
			e.line++
			e.col = 0
		}
		e.field.WriteRune(c)
	case e.format.Delimiter, e.format.Escape:
		e.field.WriteRune(c)
	default:
		if e.format.Quote != 0 && c == e.format.Quote {
			e.field.WriteRune(c)
			return nil
		}
		if c == 0 {
			return e.parseError(startLine, errInvalidEscape)
		}
		e.field.WriteRune(e.format.Escape)
		e.field.WriteRune(c)
	}
	return nil
}

// isNewline reports if c ends a line, consuming the LF of a CRLF pair.
func (e *escapedReader) isNewline(c rune) bool {
	switch c {
	case '\n':
		e.line++
		e.col = 0
		return true
	case '\r':
		if next, err := e.readRune(); err == nil && next != '\n' {
			e.unreadRune()
		}
		e.line++
		e.col = 0
		return true
	}
	return false
}

// isBlank reports if c is surrounding space to be ignored by the dialect.
func (e *escapedReader) isBlank(c rune) bool {
	return e.format.TrimSpace && (c == ' ' || c == '\t') && c != e.format.Delimiter
}

func (e *escapedReader) readRune() (rune, error) {
	c, _, err := e.r.ReadRune()
	if err == nil {
		e.col++
	}
	return c, err
}

func (e *escapedReader) unreadRune() {
	if e.r.UnreadRune() == nil {
		e.col--
	}
}

func (e *escapedReader) parseError(startLine int, err error) error {
	return &csv.ParseError{StartLine: startLine, Line: e.line, Column: e.col, Err: err}
}

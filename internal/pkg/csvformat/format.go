// Package csvformat provides the supported CSV dialects and a forward-only row reader
// for resources written in any of them.
package csvformat

import (
	"fmt"
	"strings"

	"github.com/zpiroux/csv2json/entity"
)

// Format describes a CSV dialect. A zero Quote means the dialect has no quoting, and a
// zero Escape means it has no escape character.
type Format struct {
	Name      string
	Delimiter rune
	Quote     rune
	Escape    rune

	// TrimSpace removes leading and trailing white space of each value
	TrimSpace bool

	// NullString is a value representing null in the dialect, e.g. "\N" in MySQL dumps.
	// Such values are emitted as empty strings.
	NullString    string
	HasNullString bool
}

func (f Format) String() string {
	return fmt.Sprintf("%s{delimiter: %q, quote: %q, escape: %q}", f.Name, f.Delimiter, f.Quote, f.Escape)
}

const (
	Default           = "Default"
	Excel             = "Excel"
	InformixUnload    = "InformixUnload"
	InformixUnloadCsv = "InformixUnloadCsv"
	MongoDBCsv        = "MongoDBCsv"
	MongoDBTsv        = "MongoDBTsv"
	MySQL             = "MySQL"
	Oracle            = "Oracle"
	PostgreSQLCsv     = "PostgreSQLCsv"
	PostgreSQLText    = "PostgreSQLText"
	RFC4180           = "RFC4180"
	TDF               = "TDF"
)

var predefined = []Format{
	{Name: Default, Delimiter: ',', Quote: '"'},
	{Name: Excel, Delimiter: ',', Quote: '"'},
	{Name: InformixUnload, Delimiter: '|', Quote: '"', Escape: '\\'},
	{Name: InformixUnloadCsv, Delimiter: ',', Quote: '"'},
	{Name: MongoDBCsv, Delimiter: ',', Quote: '"', Escape: '"'},
	{Name: MongoDBTsv, Delimiter: '\t', Quote: '"', Escape: '"'},
	{Name: MySQL, Delimiter: '\t', Escape: '\\', NullString: `\N`, HasNullString: true},
	{Name: Oracle, Delimiter: ',', Quote: '"', Escape: '\\', TrimSpace: true, NullString: `\N`, HasNullString: true},
	{Name: PostgreSQLCsv, Delimiter: ',', Quote: '"', NullString: "", HasNullString: true},
	{Name: PostgreSQLText, Delimiter: '\t', Escape: '\\', NullString: `\N`, HasNullString: true},
	{Name: RFC4180, Delimiter: ',', Quote: '"'},
	{Name: TDF, Delimiter: '\t', Quote: '"', TrimSpace: true},
}

// Predefined returns all supported dialects with their native delimiters
func Predefined() []Format {
	formats := make([]Format, len(predefined))
	copy(formats, predefined)
	return formats
}

// Names returns the names of all supported dialects
func Names() []string {
	names := make([]string, len(predefined))
	for i, f := range predefined {
		names[i] = f.Name
	}
	return names
}

// Resolve returns the dialect with the provided name, matched case-insensitively, using the
// provided delimiter instead of the dialect's native one. Unknown names and delimiters clashing
// with the dialect's quote or escape character return an error wrapping entity.ErrConfiguration.
func Resolve(name string, delimiter rune) (Format, error) {
	for _, f := range predefined {
		if strings.EqualFold(f.Name, name) {
			if delimiter == '\r' || delimiter == '\n' || delimiter == 0 {
				return f, fmt.Errorf("%w: invalid delimiter %q", entity.ErrConfiguration, delimiter)
			}
			if delimiter == f.Quote || delimiter == f.Escape {
				return f, fmt.Errorf("%w: delimiter %q clashes with quote or escape character of format %s", entity.ErrConfiguration, delimiter, f.Name)
			}
			f.Delimiter = delimiter
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: unknown CSV format %q, supported formats: %s", entity.ErrConfiguration, name, strings.Join(Names(), ", "))
}

package projection

import (
	"fmt"
	"strings"

	"github.com/zpiroux/csv2json/entity"
)

const aliasSeparator = ":"

// AliasTable maps source field names to target field names
type AliasTable map[string]string

// NewAliasTable builds the table from "source:target" specs. Each spec must contain exactly one
// separator with non-empty parts on both sides, otherwise no table is built and an error wrapping
// entity.ErrConfiguration is returned. If the same source occurs more than once, the last spec wins.
func NewAliasTable(specs []string) (AliasTable, error) {
	table := make(AliasTable, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, aliasSeparator)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("%w: malformed alias %q, expected \"source:target\"", entity.ErrConfiguration, spec)
		}
		table[parts[0]] = parts[1]
	}
	return table, nil
}

// Target returns the output name of the field
func (a AliasTable) Target(key string) string {
	if target, ok := a[key]; ok {
		return target
	}
	return key
}

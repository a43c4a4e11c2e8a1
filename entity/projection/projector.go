package projection

import (
	"github.com/zpiroux/csv2json/entity"
)

// Projector is the default row projection implementation (stateless, immutable).
type Projector struct {
	aliases  AliasTable
	includes map[string]bool
	excludes map[string]bool
}

// NewProjector creates a projector from the projection spec. It fails if any of the alias specs
// is malformed.
func NewProjector(spec entity.Projection) (*Projector, error) {
	aliases, err := NewAliasTable(spec.Aliases)
	if err != nil {
		return nil, err
	}
	return &Projector{
		aliases:  aliases,
		includes: toSet(spec.Includes),
		excludes: toSet(spec.Excludes),
	}, nil
}

// Project returns the row fields passing the include/exclude filter, keyed by their aliased name.
// If two surviving fields end up with the same output name, the later one in header order wins.
// The input row is not modified.
func (p *Projector) Project(row entity.Row) entity.ProjectedRow {
	projected := make(entity.ProjectedRow, row.Len())
	row.Each(func(key, value string) {
		if p.Included(key) {
			projected[p.aliases.Target(key)] = value
		}
	})
	return projected
}

// Included reports if a field with this header name survives the projection. Exclusion only
// applies to keys passing the include check.
func (p *Projector) Included(key string) bool {
	if len(p.includes) > 0 && !p.includes[key] {
		return false
	}
	return !p.excludes[key]
}

func (p *Projector) Aliases() AliasTable {
	aliases := make(AliasTable, len(p.aliases))
	for k, v := range p.aliases {
		aliases[k] = v
	}
	return aliases
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

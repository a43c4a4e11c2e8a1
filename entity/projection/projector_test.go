package projection

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/csv2json/entity"
)

const testSpecDir = "../../test/specs/"

var heroRow = entity.Row{
	Number: 1,
	Header: []string{"first_name", "last_name", "identity"},
	Values: []string{"Peter", "Parker", "Spiderman"},
}

func TestAliasTable(t *testing.T) {

	table, err := NewAliasTable(nil)
	assert.NoError(t, err)
	assert.Empty(t, table)
	assert.Equal(t, "foo", table.Target("foo"))

	table, err = NewAliasTable([]string{"first_name:firstName", "a:b", "a:c"})
	assert.NoError(t, err)
	assert.Equal(t, "firstName", table.Target("first_name"))
	assert.Equal(t, "c", table.Target("a"))
	assert.Equal(t, "last_name", table.Target("last_name"))

	for _, malformed := range []string{"first_name", "a:b:c", ":b", "a:", ":", ""} {
		table, err = NewAliasTable([]string{"ok:fine", malformed})
		assert.ErrorIs(t, err, entity.ErrConfiguration, malformed)
		assert.Nil(t, table)
	}
}

func TestProjector(t *testing.T) {

	tcs := []struct {
		name     string
		spec     entity.Projection
		expected entity.ProjectedRow
	}{
		{
			name: "pass-through",
			spec: entity.Projection{},
			expected: entity.ProjectedRow{
				"first_name": "Peter",
				"last_name":  "Parker",
				"identity":   "Spiderman",
			},
		},
		{
			name: "alias",
			spec: entity.Projection{Aliases: []string{"first_name:firstName"}},
			expected: entity.ProjectedRow{
				"firstName": "Peter",
				"last_name": "Parker",
				"identity":  "Spiderman",
			},
		},
		{
			name: "alias and exclude",
			spec: entity.Projection{
				Aliases:  []string{"first_name:firstName"},
				Excludes: []string{"identity"},
			},
			expected: entity.ProjectedRow{
				"firstName": "Peter",
				"last_name": "Parker",
			},
		},
		{
			name: "alias and include",
			spec: entity.Projection{
				Aliases:  []string{"first_name:firstName"},
				Includes: []string{"first_name"},
			},
			expected: entity.ProjectedRow{
				"firstName": "Peter",
			},
		},
		{
			name: "exclude wins over include",
			spec: entity.Projection{
				Includes: []string{"first_name", "identity"},
				Excludes: []string{"identity"},
			},
			expected: entity.ProjectedRow{
				"first_name": "Peter",
			},
		},
		{
			name: "exclude by aliased name has no effect",
			spec: entity.Projection{
				Aliases:  []string{"first_name:firstName"},
				Excludes: []string{"firstName"},
			},
			expected: entity.ProjectedRow{
				"firstName": "Peter",
				"last_name": "Parker",
				"identity":  "Spiderman",
			},
		},
		{
			name: "unknown include",
			spec: entity.Projection{
				Includes: []string{"nope"},
			},
			expected: entity.ProjectedRow{},
		},
		{
			name: "alias collision, later header column wins",
			spec: entity.Projection{
				Aliases: []string{"first_name:name", "last_name:name"},
			},
			expected: entity.ProjectedRow{
				"name":     "Parker",
				"identity": "Spiderman",
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewProjector(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p.Project(heroRow))
		})
	}
}

func TestProjectorDoesNotModifyRow(t *testing.T) {

	p, err := NewProjector(entity.Projection{Aliases: []string{"first_name:firstName"}, Excludes: []string{"identity"}})
	require.NoError(t, err)

	row := entity.Row{
		Number: 7,
		Header: []string{"first_name", "last_name", "identity"},
		Values: []string{"Peter", "Parker", "Spiderman"},
	}
	_ = p.Project(row)
	assert.Equal(t, []string{"first_name", "last_name", "identity"}, row.Header)
	assert.Equal(t, []string{"Peter", "Parker", "Spiderman"}, row.Values)
	assert.Equal(t, 7, row.Number)

	// Returned table is a copy
	aliases := p.Aliases()
	aliases["last_name"] = "lastName"
	assert.Equal(t, entity.ProjectedRow{"firstName": "Peter", "last_name": "Parker"}, p.Project(row))
}

func TestProjectorShortRow(t *testing.T) {

	p, err := NewProjector(entity.Projection{})
	require.NoError(t, err)

	row := entity.Row{
		Number: 2,
		Header: []string{"a", "b", "c"},
		Values: []string{"1"},
	}
	assert.Equal(t, entity.ProjectedRow{"a": "1"}, p.Project(row))
}

func TestProjectorProperties(t *testing.T) {

	// Generated rows over the full include/exclude/alias combination space of a small header.
	header := []string{"a", "b", "c", "d"}
	values := []string{"1", "2", "3", "4"}
	row := entity.Row{Number: 1, Header: header, Values: values}
	subsets := func() [][]string {
		var s [][]string
		for mask := 0; mask < 1<<len(header); mask++ {
			var set []string
			for i, h := range header {
				if mask&(1<<i) != 0 {
					set = append(set, h)
				}
			}
			s = append(s, set)
		}
		return s
	}()
	aliases := []string{"a:alpha", "c:gamma"}

	for _, includes := range subsets {
		for _, excludes := range subsets {
			p, err := NewProjector(entity.Projection{Aliases: aliases, Includes: includes, Excludes: excludes})
			require.NoError(t, err)
			projected := p.Project(row)

			for i, key := range header {
				outKey := p.aliases.Target(key)
				value, present := projected[outKey]
				inIncludes := len(includes) == 0 || contains(includes, key)
				inExcludes := contains(excludes, key)
				if inIncludes && !inExcludes {
					assert.True(t, present, "%s should survive, inc=%v exc=%v", key, includes, excludes)
					assert.Equal(t, values[i], value)
				} else {
					assert.False(t, present, "%s should be dropped, inc=%v exc=%v", key, includes, excludes)
				}
				if outKey != key {
					_, original := projected[key]
					assert.False(t, original, "aliased key %s must not appear under its original name", key)
				}
			}
		}
	}
}

func TestProjectorFromSpecFile(t *testing.T) {

	fileBytes, err := os.ReadFile(testSpecDir + "kafkasrc-kafkasink-people.json")
	require.NoError(t, err)
	spec, err := entity.NewSpec(fileBytes)
	require.NoError(t, err)

	p, err := NewProjector(spec.Projection)
	require.NoError(t, err)

	row := entity.Row{
		Number: 1,
		Header: []string{"id", "first", "last", "ssn"},
		Values: []string{"42", "Peter", "Parker", "123-45-6789"},
	}
	assert.Equal(t, entity.ProjectedRow{"id": "42", "firstName": "Peter", "lastName": "Parker"}, p.Project(row))
}

func contains(set []string, key string) bool {
	for _, s := range set {
		if s == key {
			return true
		}
	}
	return false
}

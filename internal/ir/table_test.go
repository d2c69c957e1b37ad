package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func penguinTable() *Table {
	return &Table{
		Columns: []string{"species", "n"},
		Rows: [][]IRValue{
			{IRString("Adelie"), IRInt(152)},
			{IRString("Gentoo"), IRInt(124)},
		},
	}
}

func TestTableAccessors(t *testing.T) {
	tbl := penguinTable()

	assert.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, 1, tbl.ColumnIndex("n"))
	assert.Equal(t, -1, tbl.ColumnIndex("missing"))
	assert.Equal(t, IRInt(124), tbl.Value(1, "n"))
	assert.Equal(t, IRNull{}, tbl.Value(5, "n"))
	assert.Equal(t, IRNull{}, tbl.Value(0, "missing"))
	assert.Equal(t, []IRValue{IRString("Adelie"), IRString("Gentoo")}, tbl.Column("species"))
	assert.Equal(t, IRObject{"species": IRString("Adelie"), "n": IRInt(152)}, tbl.Objects()[0])
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	assert.Equal(t, 0, tbl.NumRows())
	assert.Equal(t, -1, tbl.ColumnIndex("a"))
	assert.Empty(t, tbl.Column("a"))
}

func TestTableJSONRoundTrip(t *testing.T) {
	tbl := penguinTable()

	data, err := json.Marshal(tbl)
	require.NoError(t, err)
	assert.Equal(t, `{"columns":["species","n"],"rows":[["Adelie",152],["Gentoo",124]]}`, string(data))

	var decoded Table
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *tbl, decoded)
}

func TestEmptyTableMarshalsColumns(t *testing.T) {
	data, err := json.Marshal(Table{})
	require.NoError(t, err)
	assert.Equal(t, `{"columns":[],"rows":[]}`, string(data))
}

func TestTableUnmarshalRejectsRaggedRows(t *testing.T) {
	var tbl Table
	err := json.Unmarshal([]byte(`{"columns":["a","b"],"rows":[[1]]}`), &tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0")
}

func TestDashboardSpecSelectionLookup(t *testing.T) {
	d := DashboardSpec{Selections: []SelectionSpec{{Name: "brush", Strategy: "crossfilter"}}}

	s, ok := d.Selection("brush")
	require.True(t, ok)
	assert.Equal(t, "crossfilter", s.Strategy)

	_, ok = d.Selection("nope")
	assert.False(t, ok)
}

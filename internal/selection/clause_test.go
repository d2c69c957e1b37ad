package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
)

func TestPointClause(t *testing.T) {
	src := &client{"menu"}

	c, err := Point(src, "species", ir.IRString("Adelie"))
	require.NoError(t, err)
	assert.Equal(t, KindPoint, c.Kind)
	assert.Equal(t, []string{"species"}, c.Fields)
	assert.Equal(t, ir.IRString("Adelie"), c.Value)
	assert.Equal(t, queryir.Equals{Field: "species", Value: ir.IRString("Adelie")}, c.Predicate)
	assert.False(t, c.IsEmpty())

	removal, err := Point(src, "species", nil)
	require.NoError(t, err)
	assert.True(t, removal.IsEmpty())
	assert.Nil(t, removal.Resolve())

	missing, err := Point(src, "sex", ir.IRNull{})
	require.NoError(t, err)
	assert.Equal(t, queryir.Equals{Field: "sex", Value: ir.IRNull{}}, missing.Predicate)
}

func TestPointsClause(t *testing.T) {
	src := &client{"bars"}

	c, err := Points(src, []string{"species", "island"}, [][]ir.IRValue{
		{ir.IRString("Adelie"), ir.IRString("Dream")},
		{ir.IRString("Gentoo"), ir.IRString("Biscoe")},
	})
	require.NoError(t, err)

	want := queryir.Or{Predicates: []queryir.Predicate{
		queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "species", Value: ir.IRString("Adelie")},
			queryir.Equals{Field: "island", Value: ir.IRString("Dream")},
		}},
		queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "species", Value: ir.IRString("Gentoo")},
			queryir.Equals{Field: "island", Value: ir.IRString("Biscoe")},
		}},
	}}
	assert.Equal(t, want, c.Predicate)
	assert.Len(t, c.Value, 2)

	_, err = Points(src, []string{"species"}, [][]ir.IRValue{{ir.IRString("a"), ir.IRString("b")}})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	empty, err := Points(src, []string{"species"}, nil)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestIntervalClause(t *testing.T) {
	src := &client{"brush"}

	c, err := Interval(src, "mass", ir.IRFloat(4100.5), ir.IRInt(3000))
	require.NoError(t, err)
	assert.Equal(t, ir.IRArray{ir.IRInt(3000), ir.IRFloat(4100.5)}, c.Value)
	assert.Equal(t, queryir.Range{Field: "mass", Lo: ir.IRInt(3000), Hi: ir.IRFloat(4100.5)}, c.Predicate)

	cleared, err := Interval(src, "mass", nil, nil)
	require.NoError(t, err)
	assert.True(t, cleared.IsEmpty())

	_, err = Interval(src, "mass", ir.IRArray{}, ir.IRInt(1))
	assert.True(t, IsConfigError(err))
}

func TestIntervalsClause(t *testing.T) {
	src := &client{"xy"}

	c, err := Intervals(src, []string{"x", "y"}, []Extent{
		{ir.IRInt(0), ir.IRInt(10)},
		{ir.IRInt(5), ir.IRInt(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, queryir.And{Predicates: []queryir.Predicate{
		queryir.Range{Field: "x", Lo: ir.IRInt(0), Hi: ir.IRInt(10)},
		queryir.Range{Field: "y", Lo: ir.IRInt(1), Hi: ir.IRInt(5)},
	}}, c.Predicate)

	_, err = Intervals(src, []string{"x", "y"}, []Extent{{ir.IRInt(0), ir.IRInt(1)}})
	assert.True(t, IsConfigError(err))

	_, err = Intervals(src, []string{"x"}, []Extent{{ir.IRInt(0), nil}})
	assert.True(t, IsConfigError(err))
}

func TestMatchClause(t *testing.T) {
	src := &client{"search"}

	c, err := Match(src, "island", []ir.IRValue{ir.IRString("Dream"), ir.IRString("Torgersen")})
	require.NoError(t, err)
	assert.Equal(t, KindMatch, c.Kind)
	assert.Equal(t, queryir.In{Field: "island", Values: []ir.IRValue{ir.IRString("Dream"), ir.IRString("Torgersen")}}, c.Predicate)

	none, err := Match(src, "island", []ir.IRValue{})
	require.NoError(t, err)
	assert.False(t, none.IsEmpty(), "an empty set is a real constraint")

	removal, err := Match(src, "island", nil)
	require.NoError(t, err)
	assert.True(t, removal.IsEmpty())
}

func TestValueClauseDoesNotFilter(t *testing.T) {
	src := &client{"slider"}

	c, err := ValueClause(src, ir.IRInt(42))
	require.NoError(t, err)
	assert.Nil(t, c.Resolve())

	s := NewUnion("u")
	require.NoError(t, s.Update(c))
	assert.Equal(t, ir.IRInt(42), s.Value())
	assert.Nil(t, s.Predicate(src))
}

func TestResolveValueOnlyPointUsesEquality(t *testing.T) {
	c := Clause{Source: &client{}, Kind: KindPoint, Fields: []string{"species"}, Value: ir.IRString("Chinstrap")}
	assert.Equal(t, queryir.Equals{Field: "species", Value: ir.IRString("Chinstrap")}, c.Resolve())
}

func TestConstructorErrors(t *testing.T) {
	src := &client{}
	tests := []struct {
		name string
		fn   func() error
	}{
		{"point no field", func() error { _, err := Point(src, "", ir.IRInt(1)); return err }},
		{"point array value", func() error { _, err := Point(src, "x", ir.IRArray{}); return err }},
		{"point no source", func() error { _, err := Point(nil, "x", ir.IRInt(1)); return err }},
		{"points no fields", func() error { _, err := Points(src, nil, nil); return err }},
		{"interval no field", func() error { _, err := Interval(src, "", ir.IRInt(0), ir.IRInt(1)); return err }},
		{"intervals no fields", func() error { _, err := Intervals(src, nil, nil); return err }},
		{"match no field", func() error { _, err := Match(src, "", nil); return err }},
		{"match object value", func() error { _, err := Match(src, "x", []ir.IRValue{ir.IRObject{}}); return err }},
		{"value no source", func() error { _, err := ValueClause(nil, ir.IRInt(1)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), string(ErrCodeMalformedClause))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "interval", KindInterval.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

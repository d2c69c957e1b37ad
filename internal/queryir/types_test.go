package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/xfilter/internal/ir"
)

func TestSealedInterfaces(t *testing.T) {
	var _ Query = Select{}
	var _ Query = &Select{}

	var _ Predicate = Equals{}
	var _ Predicate = In{}
	var _ Predicate = Range{}
	var _ Predicate = And{}
	var _ Predicate = Or{}
	var _ Predicate = Not{}

	var _ Expr = Field{}
	var _ Expr = Count{}
	var _ Expr = CountDistinct{}
	var _ Expr = CountNulls{}
	var _ Expr = Min{}
	var _ Expr = Max{}
	var _ Expr = Sum{}
	var _ Expr = Avg{}
	var _ Expr = Bin{}
}

func TestAndOf(t *testing.T) {
	a := Equals{Field: "a", Value: ir.IRInt(1)}
	b := Range{Field: "b", Lo: ir.IRInt(0), Hi: ir.IRInt(9)}

	assert.Nil(t, AndOf())
	assert.Nil(t, AndOf(nil, nil))
	assert.Equal(t, a, AndOf(nil, a))
	assert.Equal(t, And{Predicates: []Predicate{a, b}}, AndOf(a, nil, b))
}

func TestOrOf(t *testing.T) {
	a := Equals{Field: "a", Value: ir.IRInt(1)}
	b := Equals{Field: "a", Value: ir.IRInt(2)}

	assert.Nil(t, OrOf())
	assert.Equal(t, a, OrOf(a, nil), "nil operands are dropped")
	assert.Equal(t, a, OrOf(a))
	assert.Equal(t, Or{Predicates: []Predicate{a, b}}, OrOf(a, b))
}

func TestOrOfDoesNotAliasInput(t *testing.T) {
	preds := []Predicate{
		Equals{Field: "a", Value: ir.IRInt(1)},
		Equals{Field: "a", Value: ir.IRInt(2)},
	}
	or := OrOf(preds...).(Or)

	preds[0] = nil
	assert.NotNil(t, or.Predicates[0])
}

func TestFields(t *testing.T) {
	p := And{Predicates: []Predicate{
		Equals{Field: "species", Value: ir.IRString("Adelie")},
		&Or{Predicates: []Predicate{
			Range{Field: "mass", Lo: ir.IRInt(1), Hi: ir.IRInt(2)},
			Not{Predicate: In{Field: "species"}},
		}},
	}}

	assert.Equal(t, []string{"species", "mass"}, Fields(p))
	assert.Empty(t, Fields(nil))
}

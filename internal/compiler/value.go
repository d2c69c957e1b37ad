package compiler

import (
	"fmt"
	"math"

	"cuelang.org/go/cue"

	"github.com/roach88/xfilter/internal/ir"
)

// toIRValue converts a concrete CUE value to an IRValue. Integers stay
// IRInt; only non-integral numbers become IRFloat.
func toIRValue(v cue.Value, field string) (ir.IRValue, error) {
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &CompileError{Field: field, Message: "number out of range", Pos: v.Pos()}
		}
		return ir.IRFloat(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			elem, err := toIRValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := toIRValue(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

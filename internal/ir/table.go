package ir

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Table is a tabular query result: named columns and row-major values.
// A Table with zero rows is a valid result and is distinct from a failure.
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]IRValue `json:"rows"`
}

// NumRows returns the number of rows, treating a nil table as empty.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}
	return slices.Index(t.Columns, name)
}

// Value returns the value at (row, column name). Missing cells read as IRNull.
func (t *Table) Value(row int, column string) IRValue {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= t.NumRows() || idx >= len(t.Rows[row]) {
		return IRNull{}
	}
	if v := t.Rows[row][idx]; v != nil {
		return v
	}
	return IRNull{}
}

// Column returns every value of the named column in row order.
func (t *Table) Column(name string) []IRValue {
	out := make([]IRValue, t.NumRows())
	for i := range out {
		out[i] = t.Value(i, name)
	}
	return out
}

// Objects returns the rows as column-keyed objects.
func (t *Table) Objects() []IRObject {
	out := make([]IRObject, t.NumRows())
	for i := range out {
		obj := make(IRObject, len(t.Columns))
		for _, c := range t.Columns {
			obj[c] = t.Value(i, c)
		}
		out[i] = obj
	}
	return out
}

func (t *Table) irObject() IRObject {
	cols := make(IRArray, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = IRString(c)
	}
	rows := make(IRArray, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = IRArray(r)
	}
	return IRObject{"columns": cols, "rows": rows}
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [[...]]}.
func (t Table) MarshalJSON() ([]byte, error) {
	rows := make([]IRArray, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = IRArray(r)
	}
	cols := t.Columns
	if cols == nil {
		cols = []string{}
	}
	return json.Marshal(struct {
		Columns []string  `json:"columns"`
		Rows    []IRArray `json:"rows"`
	}{cols, rows})
}

// UnmarshalJSON decodes the MarshalJSON form and checks that every row is
// as wide as the column list.
func (t *Table) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns []string  `json:"columns"`
		Rows    []IRArray `json:"rows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Columns = raw.Columns
	t.Rows = make([][]IRValue, len(raw.Rows))
	for i, r := range raw.Rows {
		if len(r) != len(raw.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(r), len(raw.Columns))
		}
		t.Rows[i] = []IRValue(r)
	}
	return nil
}

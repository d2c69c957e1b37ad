package ir

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKeyDeterminism(t *testing.T) {
	sql := `SELECT "species", COUNT(*) AS "n" FROM "penguins" WHERE "mass" BETWEEN ? AND ? GROUP BY "species"`
	params := []IRValue{IRInt(3000), IRInt(4000)}

	k1, err := QueryKey(sql, params)
	require.NoError(t, err)
	k2, err := QueryKey(sql, params)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64, "SHA-256 hex is 64 characters")

	_, err = hex.DecodeString(k1)
	assert.NoError(t, err)
}

func TestQueryKeyChangesWithInput(t *testing.T) {
	base := MustQueryKey("SELECT ? AS x", []IRValue{IRInt(1)})

	assert.NotEqual(t, base, MustQueryKey("SELECT ? AS y", []IRValue{IRInt(1)}))
	assert.NotEqual(t, base, MustQueryKey("SELECT ? AS x", []IRValue{IRInt(2)}))
	assert.NotEqual(t, base, MustQueryKey("SELECT ? AS x", []IRValue{IRString("1")}))
	assert.NotEqual(t, base, MustQueryKey("SELECT ? AS x", nil))
}

func TestQueryKeyNilAndEmptyParamsMatch(t *testing.T) {
	assert.Equal(t,
		MustQueryKey("SELECT 1", nil),
		MustQueryKey("SELECT 1", []IRValue{}))
}

func TestQueryKeyErrorHandling(t *testing.T) {
	_, err := QueryKey("SELECT ?", []IRValue{IRFloat(nanValue())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QueryKey")

	assert.Panics(t, func() {
		MustQueryKey("SELECT ?", []IRValue{IRFloat(nanValue())})
	})
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{"x":1}`)
	assert.NotEqual(t, hashWithDomain(DomainQuery, data), hashWithDomain(DomainTable, data))

	// Without the separator "ab"+"c" and "a"+"bc" would collide.
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestTableDigest(t *testing.T) {
	var tbl Table
	require.NoError(t, json.Unmarshal([]byte(`{"columns":["a"],"rows":[[1],[2.5]]}`), &tbl))

	d1, err := TableDigest(&tbl)
	require.NoError(t, err)

	tbl.Rows[0][0] = IRInt(9)
	d2, err := TableDigest(&tbl)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)

	_, err = TableDigest(nil)
	assert.Error(t, err)
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}

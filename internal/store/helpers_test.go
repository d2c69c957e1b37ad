package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/testutil"
)

const penguinsCSV = `species,island,bill_length,body_mass
Adelie,Torgersen,39.1,3750
Adelie,Biscoe,,3800
Gentoo,Biscoe,46.1,5000
Chinstrap,Dream,46.5,3500
Gentoo,Biscoe,50.0,
`

// createTestStore opens a store in a temp dir with a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// loadPenguins loads penguinsCSV as table "penguins".
func loadPenguins(t *testing.T, s *Store) {
	t.Helper()
	n, err := s.LoadCSV(context.Background(), "penguins", strings.NewReader(penguinsCSV))
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

package view

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/store"
	"github.com/roach88/xfilter/internal/testutil"
)

const penguinsCSV = `species,island,bill_length,body_mass
Adelie,Torgersen,39.1,3750
Adelie,Biscoe,,3800
Gentoo,Biscoe,46.1,5000
Chinstrap,Dream,46.5,3500
Gentoo,Biscoe,50.0,
`

// penguinStore opens a temp store holding penguinsCSV as "penguins".
func penguinStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "views.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.LoadCSV(context.Background(), "penguins", strings.NewReader(penguinsCSV))
	require.NoError(t, err)
	return s
}

// startCoordinator runs a coordinator over conn until the test ends.
func startCoordinator(t *testing.T, conn engine.Connector) *engine.Coordinator {
	t.Helper()
	co := engine.NewCoordinator(conn,
		engine.WithClientIDGenerator(testutil.NewSequentialIDs("view")))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- co.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return co
}

func drain(t *testing.T, co *engine.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, co.Manager().Drain(ctx))
}

func register(t *testing.T, co *engine.Coordinator, views ...View) {
	t.Helper()
	for _, v := range views {
		_, err := co.RegisterClient(v)
		require.NoError(t, err)
	}
	drain(t, co)
}

package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/connector"
	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
	"github.com/roach88/xfilter/internal/server"
	"github.com/roach88/xfilter/internal/testutil"
)

var _ engine.Connector = (*Connector)(nil)

func init() {
	gin.SetMode(gin.TestMode)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dial(t *testing.T, conn engine.Connector) *Connector {
	t.Helper()
	ts := httptest.NewServer(server.New(conn).Handler())
	t.Cleanup(ts.Close)

	c, err := Dial(context.Background(), wsURL(ts.URL))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestExecute_RoundTrip(t *testing.T) {
	fake := testutil.NewFakeConnector(func(q querysql.PhysicalQuery) (*ir.Table, error) {
		return testutil.Table([]string{"sql"}, []any{q.SQL}), nil
	})
	c := dial(t, fake)

	table, err := c.Execute(context.Background(), querysql.PhysicalQuery{
		SQL:    "SELECT ?",
		Params: []ir.IRValue{ir.IRString("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("SELECT ?"), table.Value(0, "sql"))
	assert.Equal(t, 0, c.Pending())
}

// Responses are matched by id, so a slow query does not hold up a fast one
// issued after it on the same connection.
func TestExecute_Multiplexed(t *testing.T) {
	gated := testutil.NewGatedConnector()
	c := dial(t, gated)
	ctx := context.Background()

	type result struct {
		table *ir.Table
		err   error
	}
	results := make(map[string]chan result)
	var wg sync.WaitGroup
	for _, sql := range []string{"slow", "fast"} {
		sql := sql
		ch := make(chan result, 1)
		results[sql] = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl, err := c.Execute(ctx, querysql.PhysicalQuery{SQL: sql})
			ch <- result{tbl, err}
		}()
	}

	calls, err := gated.NextN(2, 5*time.Second)
	require.NoError(t, err)
	bySQL := map[string]*testutil.Call{}
	for _, call := range calls {
		bySQL[call.Query.SQL] = call
	}

	bySQL["fast"].Reply(testutil.Table([]string{"v"}, []any{"fast"}), nil)
	select {
	case r := <-results["fast"]:
		require.NoError(t, r.err)
		assert.Equal(t, ir.IRString("fast"), r.table.Value(0, "v"))
	case <-time.After(5 * time.Second):
		t.Fatal("fast query blocked behind slow query")
	}
	assert.Equal(t, 1, c.Pending())

	bySQL["slow"].Reply(nil, errors.New("slow failed"))
	r := <-results["slow"]
	require.Error(t, r.err)
	assert.True(t, connector.IsRemoteError(r.err))
	assert.Contains(t, r.err.Error(), "slow failed")

	wg.Wait()
}

func TestExecute_ContextCancelForgetsRequest(t *testing.T) {
	gated := testutil.NewGatedConnector()
	c := dial(t, gated)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, querysql.PhysicalQuery{SQL: "SELECT 1"})
		errCh <- err
	}()

	call, err := gated.Next(5 * time.Second)
	require.NoError(t, err)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, c.Pending())

	// The late response is dropped and the connection stays usable.
	call.Reply(testutil.Table([]string{"n"}, []any{int64(1)}), nil)

	go func() {
		next, err := gated.Next(5 * time.Second)
		if err == nil {
			next.Reply(testutil.Table([]string{"n"}, []any{int64(2)}), nil)
		}
	}()
	table, err := c.Execute(context.Background(), querysql.PhysicalQuery{SQL: "SELECT 2"})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(2), table.Value(0, "n"))
}

func TestClose_FailsPending(t *testing.T) {
	gated := testutil.NewGatedConnector()
	c := dial(t, gated)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), querysql.PhysicalQuery{SQL: "SELECT 1"})
		errCh <- err
	}()
	_, err := gated.Next(5 * time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, connector.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending Execute not released by Close")
	}

	_, err = c.Execute(context.Background(), querysql.PhysicalQuery{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, connector.ErrClosed)
	assert.NoError(t, c.Close(), "second Close is a no-op")
}

func TestServerGoneFailsPending(t *testing.T) {
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	defer ts.Close()

	c, err := Dial(context.Background(), wsURL(ts.URL))
	require.NoError(t, err)
	defer c.Close()
	ws := <-accepted

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), querysql.PhysicalQuery{SQL: "SELECT 1"})
		errCh <- err
	}()

	// Wait for the request, then drop the connection without answering.
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
	ws.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, connector.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending Execute not released when server went away")
	}
}

func TestDial_Errors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := Dial(context.Background(), wsURL(ts.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

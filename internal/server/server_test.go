package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/connector"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
	"github.com/roach88/xfilter/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func countTable(n int64) *ir.Table {
	return testutil.Table([]string{"n"}, []any{n})
}

func postQuery(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, connector.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp connector.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestQuery_OK(t *testing.T) {
	conn := testutil.NewFakeConnector(func(q querysql.PhysicalQuery) (*ir.Table, error) {
		return countTable(42), nil
	})
	srv := New(conn)

	w, resp := postQuery(t, srv.Handler(), `{"sql":"SELECT COUNT(*) AS \"n\" FROM \"t\" WHERE \"x\" = ?","params":["a"]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Table)
	assert.Equal(t, ir.IRInt(42), resp.Table.Value(0, "n"))

	calls := conn.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []ir.IRValue{ir.IRString("a")}, calls[0].Params)
}

func TestQuery_InvalidRequests(t *testing.T) {
	conn := testutil.NewFakeConnector(nil)
	srv := New(conn)
	defer func() { assert.Zero(t, conn.CallCount()) }()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sql":`},
		{"empty sql", `{"sql":"","params":[]}`},
		{"params not an array", `{"sql":"SELECT ?","params":{"a":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp connector.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestQuery_TooLarge(t *testing.T) {
	srv := New(testutil.NewFakeConnector(nil))

	body := `{"sql":"` + strings.Repeat("x", maxMessageBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestQuery_ConnectorError(t *testing.T) {
	conn := testutil.NewFakeConnector(func(querysql.PhysicalQuery) (*ir.Table, error) {
		return nil, errors.New("no such table: t")
	})
	srv := New(conn)

	w, resp := postQuery(t, srv.Handler(), `{"sql":"SELECT 1 FROM t"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "no such table: t", resp.Error)
	assert.Nil(t, resp.Table)
}

func TestQuery_Timeout(t *testing.T) {
	conn := testutil.NewGatedConnector()
	srv := New(conn, WithQueryTimeout(50*time.Millisecond))

	w, resp := postQuery(t, srv.Handler(), `{"sql":"SELECT 1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, resp.Error, context.DeadlineExceeded.Error())
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(testutil.NewFakeConnector(nil))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// Touch the counter so the family is exported.
	postQuery(t, srv.Handler(), `{"sql":"SELECT 1"}`)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "xfilter_server_requests_total")
}

func dialTestServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readResponse(t *testing.T, ws *websocket.Conn) connector.Response {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp connector.Response
	require.NoError(t, ws.ReadJSON(&resp))
	return resp
}

func TestWebSocket_ResponsesInCompletionOrder(t *testing.T) {
	conn := testutil.NewGatedConnector()
	ws := dialTestServer(t, New(conn))

	require.NoError(t, ws.WriteJSON(connector.Request{ID: "a", SQL: "SELECT 'a'"}))
	require.NoError(t, ws.WriteJSON(connector.Request{ID: "b", SQL: "SELECT 'b'"}))

	calls, err := conn.NextN(2, 5*time.Second)
	require.NoError(t, err)

	bySQL := map[string]*testutil.Call{}
	for _, c := range calls {
		bySQL[c.Query.SQL] = c
	}
	bySQL["SELECT 'b'"].Reply(countTable(2), nil)
	first := readResponse(t, ws)
	assert.Equal(t, "b", first.ID)
	assert.Equal(t, ir.IRInt(2), first.Table.Value(0, "n"))

	bySQL["SELECT 'a'"].Reply(nil, errors.New("boom"))
	second := readResponse(t, ws)
	assert.Equal(t, "a", second.ID)
	assert.Equal(t, "boom", second.Error)
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	ws := dialTestServer(t, New(testutil.NewFakeConnector(nil)))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp := readResponse(t, ws)
	assert.Empty(t, resp.ID)
	assert.NotEmpty(t, resp.Error)

	require.NoError(t, ws.WriteJSON(connector.Request{ID: "x"}))
	resp = readResponse(t, ws)
	assert.Equal(t, "x", resp.ID)
	assert.Contains(t, resp.Error, "empty sql")

	// The connection stays usable.
	require.NoError(t, ws.WriteJSON(connector.Request{ID: "y", SQL: "SELECT 1"}))
	resp = readResponse(t, ws)
	assert.Equal(t, "y", resp.ID)
	assert.Empty(t, resp.Error)
}

func TestWebSocket_MaxInFlight(t *testing.T) {
	conn := testutil.NewGatedConnector()
	ws := dialTestServer(t, New(conn, WithMaxInFlight(1)))

	require.NoError(t, ws.WriteJSON(connector.Request{ID: "1", SQL: "SELECT 1"}))
	require.NoError(t, ws.WriteJSON(connector.Request{ID: "2", SQL: "SELECT 2"}))

	first, err := conn.Next(5 * time.Second)
	require.NoError(t, err)
	_, err = conn.Next(100 * time.Millisecond)
	assert.ErrorIs(t, err, testutil.ErrNoCall, "second request waits for a slot")

	first.Reply(countTable(1), nil)
	assert.Equal(t, "1", readResponse(t, ws).ID)

	second, err := conn.Next(5 * time.Second)
	require.NoError(t, err)
	second.Reply(countTable(2), nil)
	assert.Equal(t, "2", readResponse(t, ws).ID)
}

func TestServe_ShutdownClosesSockets(t *testing.T) {
	srv := New(testutil.NewFakeConnector(nil))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var ws *websocket.Conn
	require.Eventually(t, func() bool {
		ws, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer ws.Close()

	resp, err := http.Post("http://"+ln.Addr().String()+"/query", "application/json",
		bytes.NewReader([]byte(`{"sql":"SELECT 1"}`)))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

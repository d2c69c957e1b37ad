package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xfilter/internal/connector"
)

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleQuery executes one request. Malformed requests get 400, execution
// failures 500; both carry the message in Response.Error.
func (s *Server) handleQuery(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes+1))
	if err != nil {
		s.reject(c, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(data) > maxMessageBytes {
		s.reject(c, http.StatusRequestEntityTooLarge, "request too large")
		return
	}

	req, err := connector.DecodeRequest(data)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.reject(c, http.StatusBadRequest, err.Error())
		return
	}

	resp := s.execute(c.Request.Context(), req, transportREST)
	if resp.Error != "" {
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reject(c *gin.Context, status int, msg string) {
	requestsTotal.WithLabelValues(transportREST, resultInvalid).Inc()
	c.JSON(status, connector.Response{Error: msg})
}

// execute runs a validated request and always produces a response.
func (s *Server) execute(ctx context.Context, req connector.Request, transport string) connector.Response {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	table, err := s.conn.Execute(ctx, req.Query())
	queryDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(transport, resultError).Inc()
		s.logger.Warn("query failed", "transport", transport, "id", req.ID, "error", err)
		return connector.Response{ID: req.ID, Error: err.Error()}
	}
	requestsTotal.WithLabelValues(transport, resultOK).Inc()
	return connector.Response{ID: req.ID, Table: table}
}

// handleWebSocket serves one socket connection. Requests execute
// concurrently, up to maxInFlight at a time; responses are written as they
// complete, so they can arrive out of order.
func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageBytes)
	s.track(ws)
	defer s.untrack(ws)

	wsConnections.Inc()
	defer wsConnections.Dec()
	s.logger.Info("websocket client connected", "remote", c.Request.RemoteAddr)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(resp connector.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteJSON(resp); err != nil {
			s.logger.Debug("websocket write failed", "id", resp.ID, "error", err)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.maxInFlight)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			break
		}

		req, err := connector.DecodeRequest(data)
		if err == nil {
			err = req.Validate()
		}
		if err != nil {
			requestsTotal.WithLabelValues(transportWebSocket, resultInvalid).Inc()
			send(connector.Response{ID: req.ID, Error: err.Error()})
			continue
		}

		g.Go(func() error {
			send(s.execute(ctx, req, transportWebSocket))
			return nil
		})
	}

	cancel()
	g.Wait()
	s.logger.Info("websocket client disconnected", "remote", c.Request.RemoteAddr)
}

func (s *Server) track(ws *websocket.Conn) {
	s.mu.Lock()
	s.sockets[ws] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.sockets, ws)
	s.mu.Unlock()
}

// closeSockets ends every open WebSocket. http.Server.Shutdown does not
// track hijacked connections.
func (s *Server) closeSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.sockets {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		ws.Close()
	}
}

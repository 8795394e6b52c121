package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/pipeline"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// Frame types of the persistent channel.
const (
	FrameBuildPrompt         = "build_prompt"
	FrameBuildPromptResponse = "build_prompt_response"
	FramePing                = "ping"
	FramePong                = "pong"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is an inbound channel frame. RequestID is kept as raw JSON so
// string and numeric ids are echoed exactly as sent.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response is an outbound channel frame.
type Response struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id"`
	Status    string          `json:"status"`
	Data      any             `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// requestID is a frame's correlation id: the raw JSON value echoed on
// replies and its text form for logs.
type requestID struct {
	raw  json.RawMessage
	text string
}

type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	id     string
	remote string

	inflight   sync.WaitGroup
	writerDone chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	id := uuid.NewString()
	ctx = observability.AddTransport(ctx, TransportWS)
	ctx = observability.AddConnectionID(ctx, id)

	c := &wsConn{
		server:     s,
		conn:       conn,
		send:       make(chan []byte, s.config.WS.SendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		id:         id,
		remote:     clientKey(r),
		writerDone: make(chan struct{}),
	}

	s.metrics.WSConnected()
	defer s.metrics.WSDisconnected()
	s.logger.Info(ctx, "websocket connected", "remote", c.remote)
	c.run()
	s.logger.Info(ctx, "websocket disconnected")
}

func (c *wsConn) run() {
	// Server shutdown cancels ctx while the read loop is blocked.
	stopWatch := context.AfterFunc(c.ctx, func() {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = c.conn.Close()
	})

	go c.writeLoop()
	c.readLoop()
	stopWatch()

	// Cancel in-flight builds, let them finish, then drain the writer.
	c.cancel()
	c.inflight.Wait()
	close(c.send)
	<-c.writerDone
	_ = c.conn.Close()
}

func (c *wsConn) readLoop() {
	limit := c.server.config.WS.MaxMessageBytes
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.server.logger.Debug(c.ctx, "websocket read failed", "error", err)
			}
			return
		}
		data, tooLarge, err := readLimited(r, limit)
		if err != nil {
			c.server.logger.Debug(c.ctx, "websocket read failed", "error", err)
			return
		}
		c.extendDeadline()
		if tooLarge {
			c.server.metrics.RecordWSFrame("inbound", "too_large")
			c.reject(salvageRequestID(data), fmt.Sprintf("frame exceeds %d bytes", limit))
			continue
		}
		c.dispatch(data)
	}
}

// readLimited reads one message of at most limit bytes. A longer message is
// drained and reported as too large with its leading limit bytes, so the
// channel stays usable and the id can still be salvaged.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) <= limit {
		return data, false, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, true, err
	}
	return data[:limit], true, nil
}

func (c *wsConn) extendDeadline() {
	if wait := c.server.config.WS.PongWait; wait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
	}
}

// writeLoop is the only writer of data frames. It exits when send is
// closed or a write fails; a failed write closes the socket so the read
// loop ends too.
func (c *wsConn) writeLoop() {
	defer close(c.writerDone)

	cfg := c.server.config.WS
	var tick <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	broken := false
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				if !broken {
					c.setWriteDeadline()
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if broken {
				continue
			}
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.server.logger.Debug(c.ctx, "websocket write failed", "error", err)
				broken = true
				_ = c.conn.Close()
			}
		case <-tick:
			if broken {
				continue
			}
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken = true
				_ = c.conn.Close()
			}
		}
	}
}

func (c *wsConn) setWriteDeadline() {
	if wait := c.server.config.WS.WriteWait; wait > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck
	}
}

// dispatch handles one inbound frame. Pings are answered inline; builds
// run on their own goroutine so a slow build never blocks the channel.
func (c *wsConn) dispatch(raw []byte) {
	id := salvageRequestID(raw)

	if !gjson.ValidBytes(raw) {
		c.server.metrics.RecordWSFrame("inbound", "invalid")
		c.reject(id, "malformed JSON frame")
		return
	}

	frameType := gjson.GetBytes(raw, "type").String()
	switch frameType {
	case FramePing, FrameBuildPrompt:
		c.server.metrics.RecordWSFrame("inbound", frameType)
	default:
		c.server.metrics.RecordWSFrame("inbound", "unknown")
		c.reject(id, fmt.Sprintf("unsupported message type %q", frameType))
		return
	}

	if err := validateEnvelope(raw); err != nil {
		c.server.logger.Debug(c.ctx, "invalid websocket frame", "error", shapeDetail(err))
		c.reject(id, "invalid frame: "+err.Error())
		return
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.server.logger.Debug(c.ctx, "invalid websocket frame", "error", err)
		c.reject(id, "invalid frame")
		return
	}

	if env.Type == FramePing {
		c.enqueue(Response{
			Type:      FramePong,
			RequestID: id.raw,
			Status:    StatusSuccess,
			Data:      map[string]any{"timestamp": float64(time.Now().UnixMilli()) / 1000},
		})
		return
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		c.reject(id, (&pipeline.ValidationError{Field: "data", Reason: "is required"}).Error())
		return
	}
	req, err := decodeBuildRequest(env.Data)
	if err != nil {
		c.server.logger.Debug(c.ctx, "rejected build request", "error", shapeDetail(err))
		c.reject(id, err.Error())
		return
	}
	if !c.server.limiter.Allow(c.remote) {
		c.server.metrics.RecordRateLimited()
		c.reject(id, "rate limit exceeded")
		return
	}

	c.inflight.Add(1)
	go c.handleBuild(id, req)
}

func (c *wsConn) handleBuild(id requestID, req *models.BuildRequest) {
	defer c.inflight.Done()

	ctx := observability.AddRequestID(c.ctx, id.text)
	resp, err := c.server.build(ctx, req)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		if statusFor(ctx, err) == http.StatusInternalServerError {
			c.server.logger.Error(ctx, "build request failed", "error", err)
		}
		c.reject(id, err.Error())
		return
	}
	c.enqueue(Response{
		Type:      FrameBuildPromptResponse,
		RequestID: id.raw,
		Status:    StatusSuccess,
		Data:      resp,
	})
}

func (c *wsConn) reject(id requestID, msg string) {
	c.enqueue(Response{
		Type:      FrameBuildPromptResponse,
		RequestID: id.raw,
		Status:    StatusError,
		Error:     msg,
	})
}

func (c *wsConn) enqueue(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.server.logger.Error(c.ctx, "encode websocket response", "error", err)
		return
	}
	select {
	case c.send <- data:
		c.server.metrics.RecordWSFrame("outbound", resp.Type)
	case <-c.ctx.Done():
	}
}

// salvageRequestID extracts request_id from a frame that may not even be
// valid JSON. Whatever value the caller sent is echoed verbatim; an id is
// generated only when none is present.
func salvageRequestID(raw []byte) requestID {
	id := gjson.GetBytes(raw, "request_id")
	if id.Exists() && id.Type != gjson.Null && json.Valid([]byte(id.Raw)) {
		text := id.Raw
		if id.Type == gjson.String {
			text = id.String()
		}
		return requestID{raw: json.RawMessage(id.Raw), text: text}
	}
	generated := "req_" + uuid.NewString()
	encoded, _ := json.Marshal(generated)
	return requestID{raw: encoded, text: generated}
}

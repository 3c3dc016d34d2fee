// Package ws provides the WebSocket ingest surface: remote microphones
// stream raw PCM chunks in as binary frames and receive replies and status
// events back on the same connection.
//
// Protocol:
//
//   - Binary frames carry one capture chunk of 16-bit little-endian PCM,
//     forwarded to the session coordinator. When the configured capture
//     format differs from the detector's reference format, chunks are
//     downmixed and resampled first (see [WithInputFormat]).
//   - Text frames carry control JSON: {"type": "start" | "stop" | "status"}.
//   - The server pushes text events: {"type": "status", ...} in answer to a
//     status request, {"type": "ack", ...} for accepted commands,
//     {"type": "error", ...} on rejected ones, and {"type": "reply", ...}
//     when the pipeline answers. A reply with audio is followed by one
//     binary frame holding the synthesized PCM.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/pkg/audio"
)

// writeTimeout bounds a single frame write to a client.
const writeTimeout = 5 * time.Second

// Controller is the slice of the session coordinator the transport needs.
type Controller interface {
	SubmitChunk(chunk []byte) error
	RequestStart() error
	RequestStop()
	State() session.State
	RemainingPlayback() time.Duration
	StatusLabel() string
}

// Compile-time check that the coordinator satisfies the transport contract.
var _ Controller = (*session.Coordinator)(nil)

// controlMessage is an inbound text frame.
type controlMessage struct {
	Type string `json:"type"`
}

// event is an outbound text frame.
type event struct {
	Type         string `json:"type"`
	Command      string `json:"command,omitempty"`
	Message      string `json:"message,omitempty"`
	State        string `json:"state,omitempty"`
	RemainingMS  int64  `json:"remaining_ms,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
	AudioBytes   int    `json:"audio_bytes,omitempty"`
}

// client is one connected WebSocket peer. Writes are serialized through mu
// so a broadcast cannot interleave with a control response.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// writeJSON sends one text event.
func (c *client) writeJSON(ctx context.Context, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// writeReply sends a reply event plus its audio frame in one locked section
// so the binary frame always directly follows its announcement.
func (c *client) writeReply(ctx context.Context, reply *session.Reply) error {
	ev := event{
		Type:         "reply",
		Transcript:   reply.Transcript,
		ResponseText: reply.ResponseText,
		AudioBytes:   len(reply.Audio.Data),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return err
	}
	if reply.HasAudio() {
		return c.conn.Write(wctx, websocket.MessageBinary, reply.Audio.Data)
	}
	return nil
}

// Option is a functional option for the Server.
type Option func(*Server)

// WithMetrics attaches a metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithInputFormat declares the PCM format clients stream (srcRate Hz,
// srcChannels). Every binary frame is conditioned — stereo downmixed, then
// linearly resampled to targetRate — before it reaches the coordinator.
func WithInputFormat(srcRate, srcChannels, targetRate int) Option {
	return func(s *Server) {
		s.conditioner = &audio.Conditioner{TargetRate: targetRate}
		s.srcRate = srcRate
		s.srcChannels = srcChannels
	}
}

// Server accepts WebSocket connections and bridges them to the session
// coordinator. Safe for concurrent use.
type Server struct {
	controller Controller
	metrics    *observe.Metrics

	// conditioner converts inbound chunks to the reference format; nil when
	// clients already stream it.
	conditioner *audio.Conditioner
	srcRate     int
	srcChannels int

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer creates a Server driving the given controller.
func NewServer(controller Controller, opts ...Option) *Server {
	s := &Server{
		controller: controller,
		metrics:    observe.DefaultMetrics(),
		clients:    make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the /ws and /status routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /status", s.handleStatus)
}

// BroadcastReply pushes a pipeline reply to every connected client. Wire it
// into the coordinator via [session.WithReplyHandler]. Failed clients are
// logged and skipped; the read loop notices the dead connection.
func (s *Server) BroadcastReply(reply session.Reply) {
	if reply.Transcript == "" && reply.ResponseText == "" && !reply.HasAudio() {
		return
	}
	for _, c := range s.snapshot() {
		if err := c.writeReply(context.Background(), &reply); err != nil {
			slog.Warn("reply broadcast failed", "error", err)
		}
	}
}

// BroadcastError pushes a pipeline failure to every connected client. Wire
// it into the coordinator via [session.WithErrorHandler].
func (s *Server) BroadcastError(err error) {
	for _, c := range s.snapshot() {
		if werr := c.writeJSON(context.Background(), event{Type: "error", Message: err.Error()}); werr != nil {
			slog.Warn("error broadcast failed", "error", werr)
		}
	}
}

// snapshot copies the client set under the lock.
func (s *Server) snapshot() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}

// handleStatus serves the poll endpoint as plain JSON for clients that do
// not hold a WebSocket open.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(s.statusEvent())
}

func (s *Server) statusEvent() event {
	return event{
		Type:        "status",
		State:       s.controller.State().String(),
		RemainingMS: s.controller.RemainingPlayback().Milliseconds(),
	}
}

// handleWS upgrades the connection and runs the read loop until the client
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ActiveStreams.Add(r.Context(), 1)
	slog.Info("audio stream connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.metrics.ActiveStreams.Add(context.Background(), -1)
		conn.Close(websocket.StatusNormalClosure, "stream closed")
		slog.Info("audio stream disconnected", "remote", r.RemoteAddr)
	}()

	s.readLoop(r.Context(), c)
}

// readLoop dispatches inbound frames until the connection drops.
func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if s.conditioner != nil {
				data = s.conditioner.Condition(data, s.srcRate, s.srcChannels)
			}
			if err := s.controller.SubmitChunk(data); err != nil {
				// Out-of-order detector events are protocol noise from
				// the client's perspective; log, don't disconnect.
				slog.Debug("chunk rejected", "error", err)
			}

		case websocket.MessageText:
			s.handleControl(ctx, c, data)
		}
	}
}

// handleControl executes one control message and answers on the same
// connection.
func (s *Server) handleControl(ctx context.Context, c *client, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = c.writeJSON(ctx, event{Type: "error", Message: "malformed control message"})
		return
	}

	switch msg.Type {
	case "start":
		if err := s.controller.RequestStart(); err != nil {
			_ = c.writeJSON(ctx, event{Type: "error", Command: "start", Message: err.Error()})
			return
		}
		_ = c.writeJSON(ctx, event{Type: "ack", Command: "start"})

	case "stop":
		s.controller.RequestStop()
		_ = c.writeJSON(ctx, event{Type: "ack", Command: "stop"})

	case "status":
		_ = c.writeJSON(ctx, s.statusEvent())

	default:
		_ = c.writeJSON(ctx, event{Type: "error", Message: "unknown control type: " + msg.Type})
	}
}

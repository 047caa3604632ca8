package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"github.com/itohio/gowrm/pkg/module"
	"github.com/itohio/gowrm/pkg/monitor"
	"github.com/itohio/gowrm/pkg/protocol"
)

// CommandRequest is the body of POST /api/commands.
type CommandRequest struct {
	Kind    string      `json:"kind"`
	Command string      `json:"command"`
	Value   interface{} `json:"value,omitempty"` // string, number or bool
}

// LinkRequest is the body of POST /api/link. An empty port reopens the
// selected one.
type LinkRequest struct {
	Port string `json:"port"`
}

// LinkStatus describes the serial link.
type LinkStatus struct {
	Port      string `json:"port"`
	Connected bool   `json:"connected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Link is the device the bridge serves. Open switches it to another port.
type Link interface {
	module.Device
	Open(port string) error
	Port() string
}

// Bridge exposes a device and its telemetry over HTTP and WebSocket.
type Bridge struct {
	dev    Link
	mon    monitor.Telemetry
	log    zerolog.Logger
	router chi.Router
	hub    *hub
	ports  func() ([]module.Port, error)
}

// New creates a bridge and subscribes it to mon for streaming.
func New(dev Link, mon monitor.Telemetry, log zerolog.Logger) *Bridge {
	b := &Bridge{
		dev:    dev,
		mon:    mon,
		log:    log,
		router: chi.NewRouter(),
		hub:    newHub(),
		ports:  module.Ports,
	}

	b.router.Use(middleware.RequestID)
	b.router.Use(middleware.Recoverer)
	b.router.Use(b.logRequests)

	b.router.Get("/health", b.health)
	b.router.Route("/api", func(r chi.Router) {
		r.Get("/readings", b.readings)
		r.Get("/readings/{kind}", b.history)
		r.Post("/commands", b.command)
		r.Get("/ports", b.listPorts)
		r.Get("/link", b.linkStatus)
		r.Post("/link", b.openLink)
		r.Delete("/link", b.closeLink)
	})
	b.router.Get("/ws", b.stream)

	mon.OnReading(func(r module.Reading) {
		b.hub.broadcast(Message{Type: "reading", Data: r})
	})

	return b
}

// Handler returns the HTTP handler.
func (b *Bridge) Handler() http.Handler {
	return b.router
}

// Start serves on addr until ctx is done.
func (b *Bridge) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           b.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		b.log.Info().Str("addr", addr).Msg("starting to listen for connections")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("bridge failed: %w", err)
	case <-ctx.Done():
	}

	b.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	return nil
}

func (b *Bridge) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (b *Bridge) readings(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, http.StatusOK, b.mon.Snapshot())
}

func (b *Bridge) history(w http.ResponseWriter, r *http.Request) {
	kind, err := protocol.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		b.writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	b.writeJSON(w, http.StatusOK, b.mon.History(kind))
}

func (b *Bridge) command(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.writeJSON(w, http.StatusBadRequest, errorResponse{fmt.Sprintf("invalid body: %v", err)})
		return
	}

	kind, err := protocol.ParseKind(req.Kind)
	if err != nil {
		b.writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	cmd, err := protocol.ParseCommand(req.Command)
	if err != nil {
		b.writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}

	err = module.Execute(b.dev, kind, cmd, valueText(req.Value))
	switch {
	case err == nil:
		b.log.Info().Stringer("kind", kind).Stringer("command", cmd).Msg("command forwarded")
		b.writeJSON(w, http.StatusAccepted, req)
	case errors.Is(err, module.ErrInvalidArgument):
		b.writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, module.ErrLinkUnavailable):
		b.writeJSON(w, http.StatusServiceUnavailable, errorResponse{err.Error()})
	default:
		b.log.Error().Err(err).Msg("command failed")
		b.writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
	}
}

func (b *Bridge) listPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := b.ports()
	if err != nil {
		b.log.Error().Err(err).Msg("port enumeration failed")
		b.writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
		return
	}
	b.writeJSON(w, http.StatusOK, ports)
}

func (b *Bridge) status() LinkStatus {
	return LinkStatus{Port: b.dev.Port(), Connected: b.dev.IsConnected()}
}

func (b *Bridge) linkStatus(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, http.StatusOK, b.status())
}

// openLink (re)opens the link on the requested port. History of the previous
// link is cleared.
func (b *Bridge) openLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		b.writeJSON(w, http.StatusBadRequest, errorResponse{fmt.Sprintf("invalid body: %v", err)})
		return
	}

	err := b.dev.Open(req.Port)
	switch {
	case err == nil:
	case errors.Is(err, module.ErrLinkUnavailable), errors.Is(err, module.ErrLinkStopped):
		b.writeJSON(w, http.StatusServiceUnavailable, errorResponse{err.Error()})
		return
	default:
		b.log.Error().Err(err).Str("port", req.Port).Msg("open link failed")
		b.writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
		return
	}

	b.mon.Reset()
	st := b.status()
	b.log.Info().Str("port", st.Port).Msg("link opened")
	b.hub.broadcast(Message{Type: "link", Data: st})
	b.writeJSON(w, http.StatusOK, st)
}

// closeLink closes the link and clears the history.
func (b *Bridge) closeLink(w http.ResponseWriter, r *http.Request) {
	if err := b.dev.Close(); err != nil {
		b.log.Warn().Err(err).Msg("error closing link")
	}
	b.mon.Reset()

	st := b.status()
	b.log.Info().Str("port", st.Port).Msg("link closed")
	b.hub.broadcast(Message{Type: "link", Data: st})
	b.writeJSON(w, http.StatusOK, st)
}

// stream upgrades to WebSocket, sends the current snapshot and then every new
// reading. Incoming messages are ignored; the read loop only detects disconnects.
func (b *Bridge) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c, err := b.hub.join(conn, func() Message {
		return Message{Type: "snapshot", Data: b.mon.Snapshot()}
	})
	if err != nil {
		b.hub.remove(c)
		return
	}

	// Keep reading until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.hub.remove(c)
			return
		}
	}
}

func (b *Bridge) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.log.Warn().Err(err).Msg("failed to write response")
	}
}

func (b *Bridge) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		b.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func valueText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

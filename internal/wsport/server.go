// Package wsport exposes bridge ports over WebSocket. Each connection to
// /port owns one port and every message it sends is one port write.
package wsport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/groutine"
	"github.com/srg/bleport/internal/protocol"
)

const (
	writeWait       = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is a server-to-client message.
type Frame struct {
	Type  string           `json:"type"`
	Port  *bridge.PortInfo `json:"port,omitempty"`
	Error string           `json:"error,omitempty"`
	Kind  string           `json:"kind,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Server serves /port and /ports for one Serial.
type Server struct {
	serial *bridge.Serial
	logger *logrus.Logger
	mux    *http.ServeMux

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func New(serial *bridge.Serial, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		serial: serial,
		logger: logger,
		mux:    http.NewServeMux(),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	s.mux.HandleFunc("/port", s.handlePort)
	s.mux.HandleFunc("/ports", corsMiddleware(s.handlePorts))
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled. The bound address is
// reported through ready, when non-nil.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if ready != nil {
		ready(ln.Addr())
	}

	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	groutine.Go(ctx, "wsport-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		s.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	s.logger.WithField("addr", ln.Addr().String()).Info("WebSocket port server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ports, err := s.serial.GetPorts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	infos := make([]bridge.PortInfo, 0, len(ports))
	for _, p := range livePorts(ports) {
		infos = append(infos, p.Info())
	}
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		s.logger.WithError(err).Warn("Failed to encode port list")
	}
}

// handlePort acquires a port, or attaches to ?device=<id>, then upgrades.
// An acquired port is closed when the socket goes away; an attached one is
// left alone.
func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	port, owned, status, err := s.lookupPort(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade connection")
		if owned {
			_ = port.Close(context.Background())
		}
		return
	}

	s.track(conn)
	defer s.untrack(conn)

	session := &portSession{
		conn:   conn,
		port:   port,
		logger: s.logger.WithFields(logrus.Fields{"device_id": port.DeviceID(), "remote": r.RemoteAddr}),
	}
	session.run()

	if owned {
		if err := port.Close(context.Background()); err != nil {
			session.logger.WithError(err).Warn("Failed to close port")
		}
	}
}

// livePorts drops ports whose readable side has already ended. Closed debug
// ports stay registered with the bridge but can no longer carry a session.
func livePorts(ports []*bridge.Port) []*bridge.Port {
	live := ports[:0:0]
	for _, p := range ports {
		select {
		case <-p.Readable().Done():
		default:
			live = append(live, p)
		}
	}
	return live
}

func (s *Server) lookupPort(r *http.Request) (port *bridge.Port, owned bool, status int, err error) {
	if id := r.URL.Query().Get("device"); id != "" {
		ports, err := s.serial.GetPorts(r.Context())
		if err != nil {
			return nil, false, http.StatusServiceUnavailable, err
		}
		for _, p := range livePorts(ports) {
			if p.DeviceID() == id {
				return p, false, 0, nil
			}
		}
		return nil, false, http.StatusNotFound, fmt.Errorf("no port for device %q", id)
	}

	port, err = s.serial.RequestPort(r.Context())
	switch {
	case err == nil:
		return port, true, 0, nil
	case errors.Is(err, device.ErrSelectionCancelled), errors.Is(err, context.Canceled):
		return nil, false, http.StatusConflict, err
	case errors.Is(err, device.ErrNoDeviceFound):
		return nil, false, http.StatusNotFound, err
	default:
		return nil, false, http.StatusBadGateway, err
	}
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.Close()
	}
}

// portSession pumps one socket into one port.
type portSession struct {
	conn   *websocket.Conn
	port   *bridge.Port
	logger *logrus.Entry

	writeMu sync.Mutex
}

func (ps *portSession) send(f Frame) error {
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()
	_ = ps.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ps.conn.WriteJSON(f)
}

func (ps *portSession) run() {
	info := ps.port.Info()
	if err := ps.send(Frame{Type: "port", Port: &info}); err != nil {
		ps.logger.WithError(err).Debug("Client went away before the port frame")
		return
	}
	ps.logger.Info("WebSocket client attached to port")

	done := make(chan struct{})
	defer close(done)
	groutine.Go(context.Background(), "wsport-lost-watch", func(context.Context) {
		select {
		case <-done:
		case <-ps.port.Readable().Done():
			ps.writeMu.Lock()
			_ = ps.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection lost"),
				time.Now().Add(writeWait))
			ps.writeMu.Unlock()
			_ = ps.conn.Close()
		}
	})

	for {
		kind, msg, err := ps.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ps.logger.WithError(err).Warn("WebSocket closed unexpectedly")
			} else {
				ps.logger.Debug("WebSocket client detached")
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		if _, err := ps.port.Writable().Write(msg); err != nil {
			if sendErr := ps.send(Frame{Type: "error", Error: err.Error(), Kind: errorKind(err)}); sendErr != nil {
				return
			}
		}
	}
}

// errorKind names the failure class for clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrDecode):
		return "decode"
	case errors.Is(err, bridge.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, bridge.ErrCharacteristicUnavailable):
		return "characteristic_unavailable"
	case errors.Is(err, bridge.ErrPortClosed), errors.Is(err, bridge.ErrStreamErrored), errors.Is(err, bridge.ErrStreamLocked):
		return "closed"
	case bridge.IsTransport(err):
		return "transport"
	default:
		return "unknown"
	}
}

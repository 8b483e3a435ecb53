// Package rustplustest provides an in-process companion server for tests.
package rustplustest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lydonator/rust-plus-web-sub002/internal/rustplus"
)

// Server answers info queries with a fixed AppInfo.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	info     rustplus.AppInfo
	errMsg   string
	extra    bool
	requests []rustplus.AppRequest
	conns    map[*websocket.Conn]struct{}
}

// NewServer starts a server that replies to info queries with info.
func NewServer(info rustplus.AppInfo) *Server {
	s := &Server{
		info:  info,
		conns: make(map[*websocket.Conn]struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Address returns host:port.
func (s *Server) Address() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// WithUnknownFields makes info responses carry fields the client does not know.
func (s *Server) WithUnknownFields() *Server {
	s.mu.Lock()
	s.extra = true
	s.mu.Unlock()
	return s
}

// RespondWithError makes every response a vendor protocol error.
func (s *Server) RespondWithError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

// Requests returns the requests received so far.
func (s *Server) Requests() []rustplus.AppRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rustplus.AppRequest(nil), s.requests...)
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SendRaw writes frame to every connected client.
func (s *Server) SendRaw(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteMessage(websocket.BinaryMessage, frame)
	}
}

// DropClients closes every client connection without a close frame.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
		delete(s.conns, c)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := rustplus.UnmarshalRequest(data)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		resp := rustplus.AppResponse{Seq: req.Seq}
		if s.errMsg != "" {
			resp.Error = &rustplus.AppError{Message: s.errMsg}
		} else if req.Query == rustplus.QueryInfo {
			info := s.info
			resp.Info = &info
		} else {
			resp.Success = true
		}
		frame := rustplus.MarshalMessage(rustplus.AppMessage{Response: &resp})
		if s.extra {
			frame = protowire.AppendTag(frame, 15, protowire.BytesType)
			frame = protowire.AppendString(frame, "field from a newer server build")
		}
		err = conn.WriteMessage(websocket.BinaryMessage, frame)
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

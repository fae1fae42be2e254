// Package bridgetest runs an in-process bridge that speaks the control
// protocol well enough for tests: it answers the handshake, records every
// request and mix line, and lets tests push call status or stall replies.
package bridgetest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicebridge/internal/domain"
)

// Reply is what the fake answers to one request. An empty Status means SUCCESS.
type Reply struct {
	Contents []string
	Status   string
}

type Server struct {
	ln      net.Listener
	addr    domain.BridgeAddress
	stalled atomic.Bool

	mu        sync.Mutex
	handler   func(req string) Reply
	requests  []string
	dataLines []string
	conns     []*conn
	closed    bool
	wg        sync.WaitGroup
}

type conn struct {
	net.Conn
	data bool
	wmu  sync.Mutex
}

func (c *conn) writeLines(lines ...string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.Write([]byte(strings.Join(lines, "\n") + "\n"))
	return err
}

// NewServer listens on 127.0.0.1. sipPort only shapes the advertised address,
// so two fakes on the same host get distinct bridge keys.
func NewServer(tb testing.TB, sipPort int) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)

	port := ln.Addr().(*net.TCPAddr).Port
	s := &Server{
		ln: ln,
		addr: domain.BridgeAddress{
			PrivateHost:        "127.0.0.1",
			PrivateControlPort: port,
			PrivateSipPort:     sipPort,
			PublicHost:         "127.0.0.1",
			PublicControlPort:  port,
			PublicSipPort:      sipPort,
		},
	}
	s.wg.Add(1)
	go s.accept()
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) Address() domain.BridgeAddress { return s.addr }

// Handle installs fn to produce replies. Without a handler every request
// succeeds with no content.
func (s *Server) Handle(fn func(req string) Reply) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Stall makes the fake swallow requests without answering.
func (s *Server) Stall(on bool) { s.stalled.Store(on) }

// Requests returns control requests in arrival order. A multi-line setup
// request is joined with "\n".
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// RequestsWithPrefix filters Requests by prefix.
func (s *Server) RequestsWithPrefix(prefix string) []string {
	var out []string
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// DataLines returns the fire-and-forget lines received, mix commands mostly.
func (s *Server) DataLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dataLines...)
}

// PushStatus writes a status line to every connected status stream.
func (s *Server) PushStatus(st domain.CallStatus) {
	for _, c := range s.snapshot() {
		if c.data {
			_ = c.writeLines(st.String())
		}
	}
}

// DropConnections closes every accepted connection, as a crashing bridge would.
func (s *Server) DropConnections() {
	for _, c := range s.snapshot() {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*conn(nil), s.conns...)
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(nc)
	}
}

func (s *Server) serve(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()

	r := bufio.NewReader(nc)
	hello, err := r.ReadString('\n')
	if err != nil {
		return
	}
	c := &conn{Conn: nc, data: strings.TrimSpace(hello) != "sm=true"}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	banner := "VoiceBridge ready BridgePublicAddress='" + s.addr.PublicHost + ":" + strconv.Itoa(s.addr.PublicSipPort) + "'"
	if err := c.writeLines(banner); err != nil {
		return
	}
	if c.data {
		s.serveData(r)
		return
	}
	s.serveControl(c, r)
}

func (s *Server) serveData(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		s.mu.Lock()
		s.dataLines = append(s.dataLines, line)
		s.mu.Unlock()
	}
}

func (s *Server) serveControl(c *conn, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		req := line
		if strings.HasPrefix(line, "callId=") {
			block := []string{line}
			for {
				next, err := r.ReadString('\n')
				if err != nil {
					return
				}
				next = strings.TrimRight(next, "\r\n")
				if next == "" {
					break
				}
				block = append(block, next)
			}
			req = strings.Join(block, "\n")
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		handler := s.handler
		s.mu.Unlock()

		if s.stalled.Load() {
			continue
		}

		reply := Reply{}
		if handler != nil {
			reply = handler(req)
		}
		status := reply.Status
		if status == "" {
			status = "SUCCESS"
		}
		lines := append(append([]string(nil), reply.Contents...), "END -- "+status)
		if err := c.writeLines(lines...); err != nil {
			return
		}
	}
}

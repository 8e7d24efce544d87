package proxy

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kafitramarna/TransisiDB/internal/config"
	"github.com/kafitramarna/TransisiDB/internal/logger"
	"github.com/kafitramarna/TransisiDB/internal/mysqlconn"
	"github.com/kafitramarna/TransisiDB/internal/pool"
)

// Server is the MySQL wire-protocol front end: it accepts client TCP
// connections and hands each one a Session backed by the shared adaptive
// pool (SPEC_FULL §4.8).
type Server struct {
	config   *config.Config
	pool     *pool.Pool[*mysqlconn.Conn]
	listener net.Listener
	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
	connSem  chan struct{}
	nextConn atomic.Uint32
}

// NewServer creates a proxy server in front of an already-running pool.
func NewServer(cfg *config.Config, p *pool.Pool[*mysqlconn.Conn]) *Server {
	return &Server{
		config:  cfg,
		pool:    p,
		connSem: make(chan struct{}, cfg.Proxy.MaxConnectionsPerHost),
	}
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Proxy.Host, s.config.Proxy.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	logger.Info("proxy server listening", "address", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return nil
			}
			logger.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and waits for in-flight sessions to finish.
// The pool itself is shut down separately by the caller (cmd/poold),
// since the pool may outlive this listener during a drain-only restart.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	logger.Info("proxy server stopped gracefully")
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.connSem <- struct{}{}
	defer func() { <-s.connSem }()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	connID := s.nextConn.Add(1)
	session := NewSession(conn, s.config, s.pool, connID)
	if err := session.Handle(); err != nil {
		logger.Error("session error", "remote_addr", conn.RemoteAddr().String(), "error", err)
	}
}

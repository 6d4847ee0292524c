package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/tomerIQ713/File-Transfer/internal/encryption"
	"github.com/tomerIQ713/File-Transfer/internal/protocol"
)

// Server accepts connections and runs each one through the handshake
// and the dispatch loop on its own goroutine.
type Server struct {
	identity   *encryption.Identity
	dispatcher *Dispatcher
	sessions   *Registry
	logger     Logger
	idgen      IDGenerator

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewServer wires a server over its collaborators.
func NewServer(identity *encryption.Identity, dispatcher *Dispatcher, sessions *Registry, logger Logger, idgen IDGenerator) *Server {
	return &Server{
		identity:   identity,
		dispatcher: dispatcher,
		sessions:   sessions,
		logger:     logger,
		idgen:      idgen,
		conns:      make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until Stop is called or the
// context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. Temporary accept errors back off
// and retry; a closed listener ends the loop cleanly.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server is stopped")
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", ln.Addr().String())

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.logger.Warn("accept failed, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		// Track the connection before the handshake so Stop can close
		// it even when the client never completes the exchange.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Stop closes the listener and all live connections, including ones
// still mid-handshake, then waits for the connection goroutines to
// finish.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handleConn owns one connection for its whole life: handshake,
// registration, the dispatch read loop, teardown.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	remote := conn.RemoteAddr().String()
	cipher, err := handshake(conn, s.identity)
	if err != nil {
		s.logger.Warn("handshake failed", "remote", remote, "error", err)
		return
	}

	sess := &Session{
		ID:         s.idgen.New(),
		RemoteAddr: remote,
		Conn:       conn,
		Cipher:     cipher,
	}
	s.sessions.Register(sess)
	defer s.sessions.Unregister(sess)
	s.logger.Info("connection established", "conn", sess.ID, "remote", remote)

	for {
		m, err := protocol.ReadMessage(conn, cipher)
		if err != nil {
			if ipe, soft := protocol.AsInvalidPackage(err); soft {
				if err := protocol.WriteMessage(conn, cipher, protocol.Invalid(ipe.Reason)); err != nil {
					s.logger.Debug("connection closed", "conn", sess.ID, "error", err)
					return
				}
				continue
			}
			s.logger.Debug("connection closed", "conn", sess.ID, "error", err)
			return
		}

		response, transfer := s.dispatcher.Dispatch(ctx, sess, m)
		s.logger.Debug("request handled", "conn", sess.ID, "request", m.Type(), "response", response.Type())

		if err := protocol.WriteMessage(conn, cipher, response); err != nil {
			s.logger.Debug("connection closed", "conn", sess.ID, "error", err)
			return
		}
		if transfer != nil {
			if err := transfer(ctx); err != nil {
				s.logger.Debug("transfer aborted", "conn", sess.ID, "error", err)
				return
			}
		}
	}
}

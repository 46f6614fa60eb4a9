/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package server is loghogd's network front end: it owns every listening
// and accepted socket, reassembles stream bytes into discrete wire.Frames,
// and hands decoded payloads to a Processor. One goroutine per listener
// accepts connections; one goroutine per accepted stream owns that
// connection's reassembly buffer exclusively, which is this package's
// answer to the duck-typed-socket and socket-keyed-map patterns called out
// for re-architecture - a net.Conn (TLS or plain) is just a net.Conn, and
// per-connection state lives on that connection's own goroutine stack
// rather than in a shared map.
package server

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/wire"
)

// shutdownLinger is how long Shutdown waits after half-closing live
// connections before closing them outright, giving TLS close-notify
// alerts time to drain (matches the original's SHUTDOWN_TIMEOUT).
const shutdownLinger = 250 * time.Millisecond

// readChunk is how many bytes a connection goroutine asks for per Read.
const readChunk = 4096

// Processor is the callback invoked once per fully-decoded, decompressed
// message payload. Implementations must not block for long and must never
// panic - a panic would take down the connection goroutine that called it.
type Processor interface {
	Process(raw []byte)
}

// Config lists every address this Server should listen on. TLSConfig must
// be non-nil (and require client certificates) if TLS is non-empty.
type Config struct {
	UDP       []Addr
	TCP       []Addr
	TLS       []Addr
	TLSConfig *tls.Config
}

// Server multiplexes UDP, plain TCP, and mutually-authenticated TLS
// listeners, dispatching reassembled messages to a Processor.
type Server struct {
	proc Processor
	log  *dlog.Logger

	mu        sync.Mutex
	listeners []io.Closer
	conns     map[uint64]net.Conn
	nextConn  uint64

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// New returns a Server dispatching decoded messages to proc. Call Start to
// begin listening.
func New(proc Processor, log *dlog.Logger) *Server {
	return &Server{
		proc:  proc,
		log:   log,
		conns: make(map[uint64]net.Conn),
	}
}

// Start binds every address in cfg and begins accepting. It returns as soon
// as all listeners are bound; accepting and processing happen on
// background goroutines. A failure to bind any address tears down every
// listener already opened and returns the error - startup is all-or-nothing.
func (s *Server) Start(cfg Config) error {
	if len(cfg.TLS) > 0 && cfg.TLSConfig == nil {
		return errors.New("server: TLS listen addresses configured without a TLS config")
	}

	for _, a := range cfg.UDP {
		conn, err := net.ListenPacket("udp", a.String())
		if err != nil {
			s.closeListeners()
			return err
		}
		s.addListener(conn)
		s.wg.Add(1)
		go s.serveUDP(conn)
	}

	for _, a := range cfg.TCP {
		ln, err := net.Listen("tcp", a.String())
		if err != nil {
			s.closeListeners()
			return err
		}
		s.addListener(ln)
		s.wg.Add(1)
		go s.serveStream(ln, false)
	}

	for _, a := range cfg.TLS {
		ln, err := net.Listen("tcp", a.String())
		if err != nil {
			s.closeListeners()
			return err
		}
		tln := tls.NewListener(ln, cfg.TLSConfig)
		s.addListener(tln)
		s.wg.Add(1)
		go s.serveStream(tln, true)
	}

	return nil
}

func (s *Server) addListener(l io.Closer) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		l.Close()
	}
	s.listeners = nil
}

// serveUDP reads one datagram at a time; each datagram is exactly one
// framed message (spec.md §4.1). A datagram that doesn't hold a complete
// frame - truncated in flight or simply too large for our read buffer - is
// dropped with a warning rather than reassembled, since UDP gives us no
// continuation.
func (s *Server) serveUDP(conn net.PacketConn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, wire.MaxMessageSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if s.shutdown.Load() {
				return
			}
			if isClosed(err) {
				return
			}
			s.log.Warn("udp read error", dlog.KVErr(err))
			continue
		}

		payload, _, complete, derr := wire.Decode(buf[:n])
		if !complete {
			s.log.Warn("dropping truncated or oversize udp datagram", dlog.KV("bytes", n))
			continue
		}
		if derr != nil {
			s.log.Warn("dropping udp datagram with bad payload", dlog.KVErr(derr))
			continue
		}
		s.proc.Process(append([]byte(nil), payload...))
	}
}

// serveStream accepts connections on ln until it is closed. Each accepted
// connection gets its own goroutine and its own reassembly buffer; isTLS
// selects whether the accept loop performs the TLS handshake inline before
// handing the connection off (a handshake failure disconnects only that one
// client, per spec.md §4.1/§7).
func (s *Server) serveStream(ln net.Listener, isTLS bool) {
	defer s.wg.Done()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() || isClosed(err) {
				return
			}
			s.log.Warn("accept error", dlog.KVErr(err))
			continue
		}

		if isTLS {
			tconn := conn.(*tls.Conn)
			if err := tconn.Handshake(); err != nil {
				s.log.Warn("tls handshake failed", dlog.KV("remote", conn.RemoteAddr().String()), dlog.KVErr(err))
				tconn.Close()
				continue
			}
		}

		id := s.addConn(conn)
		s.wg.Add(1)
		go s.handleConn(conn, id)
	}
}

func (s *Server) addConn(conn net.Conn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConn++
	id := s.nextConn
	s.conns[id] = conn
	return id
}

func (s *Server) delConn(id uint64) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// handleConn reads from conn, reassembling framed messages from the
// accumulated bytes and dispatching each to the Processor in arrival order.
// A connID, generated for structured-log correlation, mirrors the role
// IngesterUUID plays across the teacher's muxer logging.
func (s *Server) handleConn(conn net.Conn, id uint64) {
	defer s.wg.Done()
	defer s.delConn(id)
	defer conn.Close()

	connID := uuid.New().String()
	buf := make([]byte, readChunk)
	var pending bytes.Buffer

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			for {
				payload, rest, complete, derr := wire.Decode(pending.Bytes())
				if !complete {
					if pending.Len() > wire.MaxMessageSize {
						s.log.Warn("dropping connection with oversize frame", dlog.KV("conn_id", connID))
						return
					}
					break
				}
				if derr != nil {
					s.log.Warn("dropping message with bad payload", dlog.KV("conn_id", connID), dlog.KVErr(derr))
				} else {
					s.proc.Process(append([]byte(nil), payload...))
				}
				remaining := append([]byte(nil), rest...)
				pending.Reset()
				pending.Write(remaining)
			}
		}
		if err != nil {
			// EOF with a non-empty partial frame is silently discarded
			// (spec.md §4.1); any other I/O error just disconnects this
			// one client.
			return
		}
	}
}

// isClosed reports whether err is the "use of closed network connection"
// error Accept/Read return once Shutdown has closed the underlying socket.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

// Shutdown stops accepting new connections, half-closes every live stream
// connection, lets shutdownLinger elapse so TLS close-notify alerts can
// drain, then closes everything outright and waits for all server
// goroutines to exit.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
	s.closeListeners()

	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if hc, ok := c.(halfCloser); ok {
			hc.CloseWrite()
		}
	}
	if len(conns) > 0 {
		time.Sleep(shutdownLinger)
	}
	for _, c := range conns {
		c.Close()
	}

	s.wg.Wait()
}

// halfCloser is satisfied by *net.TCPConn and *tls.Conn.
type halfCloser interface {
	CloseWrite() error
}

// Package net is the transport edge: a TCP command gateway speaking
// newline-delimited JSON, and a websocket server bridging the market-data
// channels. Both are thin; all semantics live in the engine.
package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/engine"
	"hati/internal/utils"
)

const maxLineSize = 16 * 1024

var ErrImproperConversion = errors.New("improper type conversion")

// session is one connected TCP client. Reads are serialized by the
// re-queue discipline (a session is only ever held by one worker);
// writes take the mutex because acks and rejects can interleave.
type session struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func (s *session) send(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("unable to send response: %w", err)
	}
	return nil
}

type Server struct {
	address string
	port    int
	engine  *engine.Engine
	pool    utils.WorkerPool
	cancel  context.CancelFunc

	sessionsLock sync.Mutex
	sessions     map[string]*session
}

func NewServer(address string, port, workers int, eng *engine.Engine) *Server {
	return &Server{
		address:  address,
		port:     port,
		engine:   eng,
		pool:     utils.NewWorkerPool(workers),
		sessions: make(map[string]*session),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("gateway shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start gateway listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close gateway listener")
		}
	}()

	s.pool.Setup(t, s.handleConnection)

	log.Info().Str("address", s.address).Int("port", s.port).Msg("gateway running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().Str("address", conn.RemoteAddr().String()).Msg("new client added")
			sess := &session{
				conn:   conn,
				reader: bufio.NewReaderSize(conn, maxLineSize),
			}
			s.addSession(sess)
			s.pool.AddTask(sess)
		}
	}
}

// handleConnection is a short-lived worker step: read one line off the
// session, execute it, write the response, and push the session back for
// its next message. A dead connection tears the session down. Any error
// returned from here is fatal to the pool, so transport problems are
// logged and swallowed.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	sess, ok := task.(*session)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	line, err := sess.reader.ReadBytes('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Error().Err(err).
				Str("address", sess.conn.RemoteAddr().String()).
				Msg("error reading from connection")
		}
		s.dropSession(sess)
		return nil
	}

	s.handleLine(sess, line)

	// Push the session back to handle its next message.
	s.pool.AddTask(sess)
	return nil
}

func (s *Server) handleLine(sess *session, line []byte) {
	req, err := ParseRequest(line)
	if err != nil {
		s.reject(sess, req, err)
		return
	}

	switch req.Type {
	case MsgNewOrder:
		order, err := req.NewOrderRequest()
		if err != nil {
			s.reject(sess, req, err)
			return
		}
		ack, err := s.engine.NewOrder(order)
		if err != nil {
			s.reject(sess, req, err)
			return
		}
		sym, _ := s.engine.Symbol(ack.Symbol)
		b, err := MarshalAck(sym, ack)
		s.respond(sess, b, err)

	case MsgCancel:
		ack, err := s.engine.CancelOrder(req.Symbol, req.OrderID)
		if err != nil {
			s.reject(sess, req, err)
			return
		}
		sym, _ := s.engine.Symbol(ack.Symbol)
		b, err := MarshalAck(sym, ack)
		s.respond(sess, b, err)

	case MsgQuery:
		snap, err := s.engine.Query(req.Symbol, req.Depth)
		if err != nil {
			s.reject(sess, req, err)
			return
		}
		sym, _ := s.engine.Symbol(snap.Symbol)
		b, err := MarshalSnapshot(sym, snap)
		s.respond(sess, b, err)
	}
}

func (s *Server) respond(sess *session, b []byte, err error) {
	if err != nil {
		log.Error().Err(err).Msg("error marshalling response")
		return
	}
	if err := sess.send(b); err != nil {
		log.Error().Err(err).
			Str("address", sess.conn.RemoteAddr().String()).
			Msg("error writing response")
		s.dropSession(sess)
	}
}

func (s *Server) reject(sess *session, req Request, cause error) {
	log.Debug().Err(cause).
		Str("address", sess.conn.RemoteAddr().String()).
		Msg("rejecting command")
	b, err := MarshalReject(req, cause)
	s.respond(sess, b, err)
}

// addSession is an atomic map add.
func (s *Server) addSession(sess *session) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[sess.conn.RemoteAddr().String()] = sess
}

// dropSession is an atomic map remove plus close.
func (s *Server) dropSession(sess *session) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	addr := sess.conn.RemoteAddr().String()
	if _, ok := s.sessions[addr]; !ok {
		return
	}
	delete(s.sessions, addr)
	if err := sess.conn.Close(); err != nil {
		log.Error().Err(err).Str("address", addr).Msg("error closing connection")
	}
}

package net

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hati/internal/engine"
	"hati/internal/feed"
)

const feedWriteTimeout = 5 * time.Second

// FeedServer bridges the sequencer channels onto websocket connections.
// A client connects to /ws?symbol=BTC/USD&channel=trades and receives
// that channel's JSON stream; orderbook subscribers get the snapshot
// first per the sequencer's contract. A client the engine outpaces is
// dropped by the sequencer and its connection closed.
type FeedServer struct {
	address  string
	port     int
	hub      *feed.Hub
	engine   *engine.Engine
	queue    int
	upgrader websocket.Upgrader
}

func NewFeedServer(address string, port int, hub *feed.Hub, eng *engine.Engine, queue int) *FeedServer {
	return &FeedServer{
		address: address,
		port:    port,
		hub:     hub,
		engine:  eng,
		queue:   queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (f *FeedServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", f.address, f.port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("feed server shutdown")
		}
	}()

	log.Info().Str("address", f.address).Int("port", f.port).Msg("feed server running")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (f *FeedServer) handleWS(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	channel := r.URL.Query().Get("channel")

	sym, ok := f.engine.Symbol(symbol)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	if !feed.KnownChannel(channel) {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	seqr, ok := f.hub.Get(symbol)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := seqr.Subscribe(feed.Channel(channel), f.queue)
	log.Info().
		Str("address", conn.RemoteAddr().String()).
		Str("symbol", symbol).
		Str("channel", channel).
		Msg("feed subscriber connected")

	// Writer: drain the subscription onto the socket. The channel closes
	// when we unsubscribe or the sequencer drops us for falling behind.
	go func() {
		defer conn.Close()
		for ev := range sub.C {
			b, err := MarshalEvent(sym, ev)
			if err != nil {
				log.Error().Err(err).Msg("error marshalling event")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				seqr.Unsubscribe(sub)
				return
			}
		}
	}()

	// Reader: we accept no client messages; this only detects close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				seqr.Unsubscribe(sub)
				return
			}
		}
	}()
}

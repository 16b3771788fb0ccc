// Package journal is the engine's narrow persistence seam. The recorder
// streams every sequenced event as a JSON line to an external writer;
// replay feeds a command log back through the engine at startup. Replay
// is deterministic: given the same command order, admission assigns the
// same order ids and the matchers reproduce the same event stream.
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/common"
	"hati/internal/engine"
	"hati/internal/feed"
	"hati/internal/net"
)

// Replay applies a newline-JSON command log to the engine. Commands that
// reject replay as rejects; that is part of the deterministic record.
// Returns the number of commands applied.
func Replay(r io.Reader, eng *engine.Engine) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	applied := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		req, err := net.ParseRequest(line)
		if err != nil {
			return applied, fmt.Errorf("replay line %d: %w", lineNo, err)
		}

		switch req.Type {
		case net.MsgNewOrder:
			order, err := req.NewOrderRequest()
			if err == nil {
				_, err = eng.NewOrder(order)
			}
			if err != nil {
				log.Debug().Err(err).Msg("replayed command rejected")
			}
		case net.MsgCancel:
			if _, err := eng.CancelOrder(req.Symbol, req.OrderID); err != nil {
				log.Debug().Err(err).Msg("replayed cancel rejected")
			}
		case net.MsgQuery:
			// Queries are read-only; nothing to replay.
			continue
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("reading replay log: %w", err)
	}
	return applied, nil
}

// Recorder subscribes to every symbol's firehose and writes each event
// as a JSON line. The write path is off the engine's hot path: a slow
// sink causes the sequencer to drop the recorder, which is surfaced
// loudly since it means the journal has a gap.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Run attaches one drain goroutine per hosted symbol.
func (r *Recorder) Run(t *tomb.Tomb, hub *feed.Hub, eng *engine.Engine, queue int) {
	for _, sym := range eng.Symbols() {
		seqr, ok := hub.Get(sym.Name)
		if !ok {
			continue
		}
		sub := seqr.Subscribe(feed.ChannelFirehose, queue)
		sym := sym
		t.Go(func() error {
			return r.drain(t, sym, sub)
		})
	}
}

func (r *Recorder) drain(t *tomb.Tomb, sym *common.Symbol, sub *feed.Subscriber) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				log.Error().Str("symbol", sym.Name).Msg("journal subscriber dropped, event journal has a gap")
				return nil
			}
			if err := r.write(sym, ev); err != nil {
				log.Error().Err(err).Str("symbol", sym.Name).Msg("error writing journal")
				return err
			}
		}
	}
}

func (r *Recorder) write(sym *common.Symbol, ev common.Event) error {
	b, err := net.MarshalEvent(sym, ev)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

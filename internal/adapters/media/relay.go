package media

import (
	"context"
	"errors"
	"io"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// rtpSource is what a capture driver hands us: batches of encoded packets.
type rtpSource interface {
	Read() ([]*rtp.Packet, func(), error)
	Close() error
}

// Relay reads one capture track and copies every packet to all of its
// out tracks. While the gate is shut packets are read and dropped, so the
// encoder keeps running and unmuting is instant.
type Relay struct {
	src rtpSource

	mu   sync.RWMutex
	outs map[string]*OutTrack

	open   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newRelay(src rtpSource) *Relay {
	r := &Relay{
		src:  src,
		outs: make(map[string]*OutTrack),
		done: make(chan struct{}),
	}
	r.open.Store(true)
	return r
}

// start runs the read loop. onEnd receives the read error, nil after stop.
func (r *Relay) start(ctx context.Context, logger *zerolog.Logger, onEnd func(error)) {
	ctx, r.cancel = context.WithCancel(ctx)
	go func() {
		err := r.loop(ctx, logger)
		r.markAllDelete()
		close(r.done)
		if onEnd != nil {
			onEnd(err)
		}
	}()
}

func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		pkts, release, err := r.src.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("capture source ended")
			} else {
				logger.Error().Err(err).Msg("capture read error, stopping relay")
			}
			return err
		}
		if r.open.Load() {
			for _, p := range pkts {
				if p != nil {
					r.forward(p, logger)
				}
			}
		}
		if release != nil {
			release()
		}
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outs))
	maps.Copy(snapshot, r.outs)
	r.mu.RUnlock()

	var dirty []string
	for sub, ot := range snapshot {
		switch ot.State() {
		case OutDelete:
			dirty = append(dirty, sub)
		case OutPaused:
		case OutOk:
			if err := ot.w.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sub", sub).Msg("write RTP failed, dropping out track")
				ot.MarkDelete()
				dirty = append(dirty, sub)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanup(dirty)
	}
}

func (r *Relay) cleanup(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range dirty {
		if ot, ok := r.outs[sub]; ok && ot.State() == OutDelete {
			delete(r.outs, sub)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outs {
		ot.MarkDelete()
	}
}

func (r *Relay) setGate(open bool) { r.open.Store(open) }

func (r *Relay) add(sub string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outs[sub]; ok {
		old.MarkDelete()
	}
	r.outs[sub] = ot
}

func (r *Relay) remove(sub string) {
	r.mu.RLock()
	ot, ok := r.outs[sub]
	r.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

func (r *Relay) hold(sub string, held bool) {
	r.mu.RLock()
	ot, ok := r.outs[sub]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if held {
		ot.Pause()
	} else {
		ot.Resume()
	}
}

func (r *Relay) subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outs {
		if ot.State() != OutDelete {
			n++
		}
	}
	return n
}

// stop ends the loop and waits for it.
func (r *Relay) stop() {
	if r.cancel != nil {
		r.cancel()
	}
	_ = r.src.Close()
	if r.cancel != nil {
		<-r.done
	}
}

// Package monitor polls a set of decoders and keeps the latest reading of each.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"elmdiag/internal/dispatcher"
	"elmdiag/internal/models"
	"elmdiag/internal/obd"
	"elmdiag/internal/observe"

	"go.uber.org/zap"
)

const DefaultInterval = time.Second

// Executor runs one command to completion.
type Executor interface {
	Execute(ctx context.Context, cmd obd.Command) dispatcher.Result
}

// Poller requests every decoder in turn, once per interval.
type Poller struct {
	exec     Executor
	decoders []obd.Decoder
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	updates *observe.Broadcast[models.DecodedReading]

	mu     sync.RWMutex
	latest map[obd.Key]models.DecodedReading
}

func New(exec Executor, decoders []obd.Decoder, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		exec:     exec,
		decoders: decoders,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		updates:  observe.NewBroadcast[models.DecodedReading](len(decoders) + 1),
		latest:   make(map[obd.Key]models.DecodedReading, len(decoders)),
	}
}

// Subscribe delivers every reading produced after the call.
func (p *Poller) Subscribe() (<-chan models.DecodedReading, func()) {
	return p.updates.Subscribe()
}

// Run polls until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce requests each decoder once and returns the readings produced. Failed
// requests become error readings. The cycle stops early when the link is down.
func (p *Poller) PollOnce(ctx context.Context) []models.DecodedReading {
	out := make([]models.DecodedReading, 0, len(p.decoders))
	for _, d := range p.decoders {
		if ctx.Err() != nil {
			break
		}
		cmd := obd.Request(d)
		reading, err := p.exec.Execute(ctx, cmd).Get()
		if err != nil {
			if errors.Is(err, obd.ErrNotConnected) || errors.Is(err, context.Canceled) {
				p.logger.Debug("poll cycle skipped", zap.Error(err))
				break
			}
			p.logger.Debug("poll failed", zap.String("pid", d.Encode()), zap.Error(err))
			reading = dispatcher.ErrorReading(cmd, err, p.now())
		}
		p.store(d.Metadata().Key(), reading)
		out = append(out, reading)
	}
	return out
}

// Latest returns the most recent reading of each decoder that produced one, in decoder
// order.
func (p *Poller) Latest() []models.DecodedReading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.DecodedReading, 0, len(p.latest))
	for _, d := range p.decoders {
		if r, ok := p.latest[d.Metadata().Key()]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Reading returns the latest reading for a decoder.
func (p *Poller) Reading(d obd.Decoder) (models.DecodedReading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.latest[d.Metadata().Key()]
	return r, ok
}

func (p *Poller) store(key obd.Key, r models.DecodedReading) {
	p.mu.Lock()
	p.latest[key] = r
	p.mu.Unlock()
	p.updates.Emit(r)
}

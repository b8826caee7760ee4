package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultPollInterval = 3 * time.Second

// Poller refetches a view on a fixed interval and hands every successful
// result to deliver, replacing what the caller had. Fetch errors are logged
// and the loop carries on.
type Poller[T any] struct {
	name     string
	interval time.Duration
	fetch    func(context.Context) (T, error)
	deliver  func(T)
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewPoller[T any](name string, interval time.Duration, fetch func(context.Context) (T, error), deliver func(T), logger *zap.Logger) *Poller[T] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller[T]{name: name, interval: interval, fetch: fetch, deliver: deliver, logger: logger}
}

// Start fetches once immediately, then every interval until ctx is
// cancelled or Stop is called.
func (p *Poller[T]) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

func (p *Poller[T]) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context) {
	v, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed", zap.String("poller", p.name), zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.deliver(v)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (p *Poller[T]) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}

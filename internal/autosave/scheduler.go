// Package autosave turns bursts of local edits into a bounded number of
// full-snapshot saves.
//
// Every Touch re-arms a quiet timer. When it fires, the snapshot is read at
// that moment and handed to the Saver. At most one save runs at a time; a
// fire that lands during a save is folded into exactly one follow-up pass
// that reads the then-current snapshot. Saves run on a detached context so
// navigating away from a project does not cancel them.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"thinkbigger/api/internal/model"
)

const (
	DefaultQuietPeriod = 2 * time.Second
	DefaultSaveTimeout = 30 * time.Second
)

type Saver interface {
	Save(ctx context.Context, projectID string, snap model.Snapshot) error
}

// SnapshotSource is the working copy being saved.
type SnapshotSource interface {
	ProjectID() string
	Snapshot() model.Snapshot
}

// Result describes one finished save pass.
type Result struct {
	ProjectID string
	Err       error
	Duration  time.Duration
}

type Option func(*Scheduler)

func WithQuietPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.quiet = d
		}
	}
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOnResult registers a callback invoked after every pass. It runs on
// the saving goroutine.
func WithOnResult(fn func(Result)) Option {
	return func(s *Scheduler) { s.onResult = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Scheduler struct {
	saver    Saver
	source   SnapshotSource
	quiet    time.Duration
	timeout  time.Duration
	onResult func(Result)
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64 // incremented per Touch
	armed   uint64 // seq of the live timer, 0 when disarmed
	dirty   bool
	running bool
	pending bool
	closed  bool
	idle    chan struct{} // closed when the running pass chain ends
}

func New(saver Saver, source SnapshotSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		saver:   saver,
		source:  source,
		quiet:   DefaultQuietPeriod,
		timeout: DefaultSaveTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch marks the working copy dirty and restarts the quiet period.
func (s *Scheduler) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dirty = true
	s.seq++
	s.armed = s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	seq := s.seq
	s.timer = time.AfterFunc(s.quiet, func() { s.fire(seq) })
}

// Pending reports whether there are unsaved edits or a save in flight.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty || s.running || s.armed != 0
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	if s.armed != seq {
		// Superseded by a later Touch or cancelled by Flush.
		s.mu.Unlock()
		return
	}
	s.armed = 0
	s.timer = nil
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.start()
	s.mu.Unlock()
	_ = s.run()
}

// start must be called with mu held.
func (s *Scheduler) start() {
	s.running = true
	s.idle = make(chan struct{})
}

// run executes passes until no follow-up is pending and returns the error
// of the last pass.
func (s *Scheduler) run() error {
	for {
		err := s.pass()

		s.mu.Lock()
		if s.pending {
			s.pending = false
			s.mu.Unlock()
			continue
		}
		s.running = false
		close(s.idle)
		s.mu.Unlock()
		return err
	}
}

func (s *Scheduler) pass() error {
	projectID := s.source.ProjectID()
	if projectID == "" {
		return nil
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()

	snap := s.source.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	err := s.saver.Save(ctx, projectID, snap)
	result := Result{ProjectID: projectID, Err: err, Duration: time.Since(started)}

	if err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.logger.Warn("autosave failed",
			zap.String("project_id", projectID),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
	} else {
		s.logger.Debug("autosave complete",
			zap.String("project_id", projectID),
			zap.Duration("duration", result.Duration))
	}
	if s.onResult != nil {
		s.onResult(result)
	}
	return err
}

// Flush cancels the quiet timer and saves now if anything is unsaved,
// first waiting for an in-flight pass. ctx bounds the wait, not the save.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.armed = 0

		if s.running {
			idle := s.idle
			s.mu.Unlock()
			select {
			case <-idle:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !s.dirty {
			s.mu.Unlock()
			return nil
		}
		s.start()
		s.mu.Unlock()
		return s.run()
	}
}

// Close stops accepting touches and flushes. Edits made before Close are
// never dropped.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

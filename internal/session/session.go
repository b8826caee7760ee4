// Package session owns the client-side state of the project a view has
// open: the working copy, its autosave scheduler and the chat pollers.
// A Session is created when a project view mounts and closed when it
// unmounts; nothing about the current project lives in globals.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"thinkbigger/api/internal/autosave"
	"thinkbigger/api/internal/chat"
	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/workspace"
)

var ErrClosed = errors.New("session closed")

// Backend is the API as seen by a session. client.Client implements it.
type Backend interface {
	autosave.Saver
	Load(ctx context.Context, projectID string) (model.Document, error)
	ListMessages(ctx context.Context, projectID string, candidateID *string) ([]model.Message, error)
	PostMessage(ctx context.Context, projectID, content string, candidateID *string, mentionedIDs []string) (model.Message, error)
	Notifications(ctx context.Context, markRead bool) ([]model.Notification, error)
}

type Deps struct {
	Backend      Backend
	QuietPeriod  time.Duration
	SaveTimeout  time.Duration
	PollInterval time.Duration
	// OnSave is told about every finished save, failed ones included.
	OnSave func(autosave.Result)
	Logger *zap.Logger
}

type Session struct {
	projectID string
	backend   Backend
	store     *workspace.Store
	scheduler *autosave.Scheduler
	interval  time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	nextID  int
	pollers map[int]func()
}

// Open loads the project and wires its working copy to autosave. A load
// failure leaves nothing running; callers decide with client.IsTerminal
// whether to retry.
func Open(ctx context.Context, deps Deps, projectID string) (*Session, error) {
	if deps.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := deps.Backend.Load(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", projectID, err)
	}

	store := workspace.New()
	store.Load(doc)

	opts := []autosave.Option{
		autosave.WithQuietPeriod(deps.QuietPeriod),
		autosave.WithSaveTimeout(deps.SaveTimeout),
		autosave.WithLogger(logger),
	}
	if deps.OnSave != nil {
		opts = append(opts, autosave.WithOnResult(deps.OnSave))
	}
	scheduler := autosave.New(deps.Backend, store, opts...)
	store.OnChange(scheduler.Touch)

	sctx, cancel := context.WithCancel(context.Background())
	logger.Debug("project session opened", zap.String("project_id", projectID))
	return &Session{
		projectID: projectID,
		backend:   deps.Backend,
		store:     store,
		scheduler: scheduler,
		interval:  deps.PollInterval,
		logger:    logger,
		ctx:       sctx,
		cancel:    cancel,
		pollers:   make(map[int]func()),
	}, nil
}

func (s *Session) ProjectID() string { return s.projectID }

// Store is the working copy. Every effective mutation schedules a save.
func (s *Session) Store() *workspace.Store { return s.store }

func (s *Session) Members() []model.Member { return s.store.Members() }

// Pending reports unsaved edits or a save in flight.
func (s *Session) Pending() bool { return s.scheduler.Pending() }

// OpenChat polls one thread and hands every fresh list to onUpdate. A nil
// candidateID is the project thread. The returned func stops the poller.
func (s *Session) OpenChat(candidateID *string, onUpdate func([]model.Message)) func() {
	name := "chat:project"
	if candidateID != nil {
		id := *candidateID
		candidateID = &id
		name = "chat:" + id
	}
	fetch := func(ctx context.Context) ([]model.Message, error) {
		return s.backend.ListMessages(ctx, s.projectID, candidateID)
	}
	return startPoller(s, chat.NewPoller(name, s.interval, fetch, onUpdate, s.logger))
}

// WatchNotifications polls the member's notifications without marking them
// read.
func (s *Session) WatchNotifications(onUpdate func([]model.Notification)) func() {
	fetch := func(ctx context.Context) ([]model.Notification, error) {
		return s.backend.Notifications(ctx, false)
	}
	return startPoller(s, chat.NewPoller("notifications", s.interval, fetch, onUpdate, s.logger))
}

func startPoller[T any](s *Session, p *chat.Poller[T]) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.pollers[id] = p.Stop
	p.Start(s.ctx)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.pollers, id)
		s.mu.Unlock()
		p.Stop()
	}
}

// Post sends a message as the signed-in member. Mentions are detected
// against the roster as it is now.
func (s *Session) Post(ctx context.Context, content string, candidateID *string) (model.Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return model.Message{}, ErrClosed
	}
	mentions := chat.DetectMentions(content, s.store.Members())
	return s.backend.PostMessage(ctx, s.projectID, content, candidateID, mentions)
}

// Close stops every poller and flushes pending edits. Saves already armed
// still complete; ctx only bounds the wait.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stops := make([]func(), 0, len(s.pollers))
	for id, stop := range s.pollers {
		stops = append(stops, stop)
		delete(s.pollers, id)
	}
	s.mu.Unlock()

	s.cancel()
	for _, stop := range stops {
		stop()
	}
	err := s.scheduler.Close(ctx)
	s.logger.Debug("project session closed", zap.String("project_id", s.projectID), zap.Error(err))
	return err
}

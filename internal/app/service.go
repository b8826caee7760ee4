package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"thinkbigger/api/internal/auth"
	"thinkbigger/api/internal/chat"
	"thinkbigger/api/internal/export"
	"thinkbigger/api/internal/history"
	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/rbac"
	"thinkbigger/api/internal/reconcile"
	"thinkbigger/api/internal/revision"
	"thinkbigger/api/internal/search"
	"thinkbigger/api/internal/store"
)

const defaultHistoryLimit = 50

type dataStore interface {
	reconcile.TxBeginner
	chat.Store
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, user model.Member) error
	ProjectRole(ctx context.Context, projectID, userID string) (store.Role, error)
	AddMember(ctx context.Context, projectID, userID string) (model.Member, error)
	LoadDocument(ctx context.Context, projectID string) (model.Document, error)
	ProjectRecords(ctx context.Context, projectID string) (model.Document, []model.Message, error)
}

// LoadResult is a full project document with the revisions it was read at.
type LoadResult struct {
	model.Document
	Revision revision.Revisions `json:"revision"`
}

type SaveResult struct {
	Success  bool  `json:"success"`
	Revision int64 `json:"revision"`
}

type PostMessageInput struct {
	Content      string
	CandidateID  *string
	MentionedIDs []string
}

type SearchInput struct {
	Text   string
	Type   string
	Limit  int
	Offset int
}

type Option func(*Service)

func WithRevisions(c revision.Counter) Option {
	return func(s *Service) {
		if c != nil {
			s.revisions = c
		}
	}
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) {
		if svc != nil {
			s.search = svc
		}
	}
}

// WithHistory enables snapshot history. Without it history lists are empty.
func WithHistory(h *history.Service) Option {
	return func(s *Service) { s.history = h }
}

func WithExport(svc *export.Service) Option {
	return func(s *Service) {
		if svc != nil {
			s.export = svc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithNotificationLimit(n int) Option {
	return func(s *Service) { s.notificationLimit = n }
}

type Service struct {
	store     dataStore
	verifier  *auth.Verifier
	engine    *reconcile.Engine
	chat      *chat.Service
	revisions revision.Counter
	search    *search.Service
	history   *history.Service
	export    *export.Service
	logger    *zap.Logger

	notificationLimit int

	// known caches identities already written to the users table.
	knownMu sync.Mutex
	known   map[string]string
}

func NewService(db dataStore, verifier *auth.Verifier, opts ...Option) *Service {
	s := &Service{
		store:     db,
		verifier:  verifier,
		revisions: revision.NewMemoryCounter(),
		logger:    zap.NewNop(),
		known:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewScanner(s.projectRecords), s.logger)
	}
	if s.export == nil {
		s.export = export.NewService(nil, export.WithLogger(s.logger))
	}
	s.engine = reconcile.NewEngine(db, s.logger)
	s.chat = chat.NewService(db,
		chat.WithIndexer(s.search),
		chat.WithLogger(s.logger),
		chat.WithNotificationLimit(s.notificationLimit))
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate verifies a bearer token and makes sure its subject exists as
// a user, so the caller can author messages and be invited.
func (s *Service) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	if s.verifier == nil {
		return model.Identity{}, auth.ErrInvalidToken
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		return model.Identity{}, err
	}

	s.knownMu.Lock()
	name, seen := s.known[identity.ID]
	s.knownMu.Unlock()
	if seen && name == identity.Name {
		return identity, nil
	}
	if err := s.store.UpsertUser(ctx, model.Member{ID: identity.ID, Name: identity.Name}); err != nil {
		return model.Identity{}, fmt.Errorf("register caller: %w", err)
	}
	s.knownMu.Lock()
	s.known[identity.ID] = identity.Name
	s.knownMu.Unlock()
	return identity, nil
}

func (s *Service) authorize(ctx context.Context, caller model.Identity, projectID string, action rbac.Action) error {
	if strings.TrimSpace(projectID) == "" {
		return notFound("Project not found", nil)
	}
	role, err := s.store.ProjectRole(ctx, projectID, caller.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Project not found", nil)
		}
		return fmt.Errorf("project role: %w", err)
	}
	if !rbac.Can(role, action) {
		s.logger.Info("access denied",
			zap.String("project_id", projectID),
			zap.String("user_id", caller.ID),
			zap.String("action", string(action)))
		return forbidden()
	}
	return nil
}

func (s *Service) Load(ctx context.Context, caller model.Identity, projectID string) (LoadResult, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionRead); err != nil {
		return LoadResult{}, err
	}
	doc, err := s.store.LoadDocument(ctx, projectID)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load project: %w", err)
	}
	return LoadResult{Document: doc, Revision: s.currentRevisions(ctx, projectID)}, nil
}

// Save persists a full snapshot. Revision bumps, history and indexing run
// only after the reconciliation committed and never fail the save.
func (s *Service) Save(ctx context.Context, caller model.Identity, projectID string, snap model.Snapshot) (SaveResult, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionSave); err != nil {
		return SaveResult{}, err
	}
	if err := validateSnapshot(snap); err != nil {
		return SaveResult{}, err
	}
	if _, err := s.engine.Reconcile(ctx, projectID, snap); err != nil {
		return SaveResult{}, err
	}

	rev, err := s.revisions.Bump(ctx, projectID, revision.StreamDocument)
	if err != nil {
		s.logger.Warn("bump document revision", zap.String("project_id", projectID), zap.Error(err))
	}
	if s.history != nil {
		if commit, ok, err := s.history.Record(projectID, snap, caller); err != nil {
			s.logger.Warn("record history", zap.String("project_id", projectID), zap.Error(err))
		} else if ok {
			s.logger.Debug("history recorded", zap.String("project_id", projectID), zap.String("commit", commit.Hash))
		}
	}
	s.search.IndexProject(projectID, search.RecordsFrom(model.Document{
		Project:     model.Project{ID: projectID},
		SubProblems: snap.SubProblems,
		Candidates:  snap.Candidates,
	}, nil))
	return SaveResult{Success: true, Revision: rev}, nil
}

func (s *Service) Revision(ctx context.Context, caller model.Identity, projectID string) (revision.Revisions, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionRead); err != nil {
		return revision.Revisions{}, err
	}
	return s.currentRevisions(ctx, projectID), nil
}

// currentRevisions degrades to zero counters when the counter store is down.
func (s *Service) currentRevisions(ctx context.Context, projectID string) revision.Revisions {
	revs, err := s.revisions.Current(ctx, projectID)
	if err != nil {
		s.logger.Warn("read revisions", zap.String("project_id", projectID), zap.Error(err))
		return revision.Revisions{}
	}
	return revs
}

func (s *Service) ListMessages(ctx context.Context, caller model.Identity, projectID string, candidateID *string) ([]model.Message, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.chat.List(ctx, projectID, candidateID)
}

// PostMessage posts as the caller. Mentions of non-members are dropped by
// the store.
func (s *Service) PostMessage(ctx context.Context, caller model.Identity, projectID string, in PostMessageInput) (model.Message, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionChat); err != nil {
		return model.Message{}, err
	}
	msg, err := s.chat.Post(ctx, projectID, chat.PostInput{
		Content:      in.Content,
		AuthorID:     caller.ID,
		CandidateID:  in.CandidateID,
		MentionedIDs: in.MentionedIDs,
	})
	if err != nil {
		return model.Message{}, err
	}
	if _, err := s.revisions.Bump(ctx, projectID, revision.StreamChat); err != nil {
		s.logger.Warn("bump chat revision", zap.String("project_id", projectID), zap.Error(err))
	}
	return msg, nil
}

// Notifications lists the caller's newest notifications. With markRead the
// listed ones are marked read in the same step.
func (s *Service) Notifications(ctx context.Context, caller model.Identity, markRead bool) ([]model.Notification, error) {
	if markRead {
		return s.chat.FetchAndMarkRead(ctx, caller.ID)
	}
	return s.chat.Notifications(ctx, caller.ID)
}

func (s *Service) MarkNotificationsRead(ctx context.Context, caller model.Identity, ids []string) (int, error) {
	return s.chat.MarkRead(ctx, caller.ID, ids)
}

func (s *Service) Invite(ctx context.Context, caller model.Identity, projectID, userID string) (model.Member, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionInvite); err != nil {
		return model.Member{}, err
	}
	member, err := s.store.AddMember(ctx, projectID, strings.TrimSpace(userID))
	switch {
	case errors.Is(err, store.ErrConflict):
		return model.Member{}, conflict("User is already a member of this project", map[string]any{"userId": userID})
	case errors.Is(err, store.ErrNotFound):
		return model.Member{}, notFound("User not found", map[string]any{"userId": userID})
	case err != nil:
		return model.Member{}, fmt.Errorf("invite member: %w", err)
	}
	s.logger.Info("member invited",
		zap.String("project_id", projectID),
		zap.String("user_id", member.ID),
		zap.String("invited_by", caller.ID))
	return member, nil
}

func (s *Service) History(ctx context.Context, caller model.Identity, projectID string, limit int) ([]history.Commit, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Commit{}, nil
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	return s.history.History(projectID, limit)
}

func (s *Service) SnapshotAt(ctx context.Context, caller model.Identity, projectID, hash string) (model.Snapshot, history.Commit, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionRead); err != nil {
		return model.Snapshot{}, history.Commit{}, err
	}
	if s.history == nil {
		return model.Snapshot{}, history.Commit{}, history.ErrNotFound
	}
	return s.history.SnapshotAt(projectID, hash)
}

func (s *Service) Search(ctx context.Context, caller model.Identity, projectID string, in SearchInput) (search.Response, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if err := validateSearch(in); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{
		ProjectID:  projectID,
		Text:       strings.TrimSpace(in.Text),
		FilterType: search.ResultType(in.Type),
		Limit:      in.Limit,
		Offset:     in.Offset,
	}), nil
}

func (s *Service) Export(ctx context.Context, caller model.Identity, projectID, rawFormat string) (*export.Result, error) {
	if err := s.authorize(ctx, caller, projectID, rbac.ActionExport); err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	doc, messages, err := s.store.ProjectRecords(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project records: %w", err)
	}
	return s.export.Export(ctx, doc, messages, format)
}

func (s *Service) projectRecords(ctx context.Context, projectID string) (search.Records, error) {
	doc, messages, err := s.store.ProjectRecords(ctx, projectID)
	if err != nil {
		return search.Records{}, err
	}
	return search.RecordsFrom(doc, messages), nil
}

// Close waits for background index writes.
func (s *Service) Close() {
	s.search.Close()
}

// Package chat implements project and candidate threads, @mention
// notifications and the polling loop clients use to stay current.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"thinkbigger/api/internal/model"
)

var ErrValidation = errors.New("validation failed")

const DefaultNotificationLimit = 20

// Store persists messages and notifications. CreateMessage must write the
// message and every notification atomically.
type Store interface {
	CreateMessage(ctx context.Context, msg model.Message, recipientIDs []string) (model.Message, error)
	ListMessages(ctx context.Context, projectID string, candidateID *string) ([]model.Message, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int, error)
	FetchAndMarkRead(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// Indexer receives posted messages for search. Indexing failures never fail
// a post.
type Indexer interface {
	IndexMessage(msg model.Message)
}

type PostInput struct {
	Content      string
	AuthorID     string
	CandidateID  *string
	MentionedIDs []string
}

type Option func(*Service)

func WithIndexer(indexer Indexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotificationLimit lowers the page size of notification lists.
func WithNotificationLimit(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= DefaultNotificationLimit {
			s.limit = n
		}
	}
}

type Service struct {
	store   Store
	indexer Indexer
	logger  *zap.Logger
	limit   int
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop(), limit: DefaultNotificationLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post appends a message to a thread and notifies every mentioned user
// other than the author, once each. Mentions of users outside the project
// roster are dropped, so a mention may produce no notification. A candidate
// thread the project never had is store.ErrNotFound.
func (s *Service) Post(ctx context.Context, projectID string, in PostInput) (model.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return model.Message{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if strings.TrimSpace(in.AuthorID) == "" {
		return model.Message{}, fmt.Errorf("%w: author is required", ErrValidation)
	}
	if in.CandidateID != nil && strings.TrimSpace(*in.CandidateID) == "" {
		in.CandidateID = nil
	}

	msg, err := s.store.CreateMessage(ctx, model.Message{
		ProjectID:   projectID,
		CandidateID: in.CandidateID,
		AuthorID:    in.AuthorID,
		Content:     content,
	}, Recipients(in.AuthorID, in.MentionedIDs))
	if err != nil {
		return model.Message{}, fmt.Errorf("post message: %w", err)
	}

	if s.indexer != nil {
		s.indexer.IndexMessage(msg)
	}
	s.logger.Debug("message posted",
		zap.String("project_id", projectID),
		zap.String("message_id", msg.ID),
		zap.Int("mentions", len(in.MentionedIDs)))
	return msg, nil
}

// Recipients de-duplicates mentions and drops the author.
func Recipients(authorID string, mentioned []string) []string {
	seen := map[string]struct{}{authorID: {}}
	out := make([]string, 0, len(mentioned))
	for _, id := range mentioned {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// List returns one thread oldest first. A nil candidateID is the project
// thread and never includes candidate messages.
func (s *Service) List(ctx context.Context, projectID string, candidateID *string) ([]model.Message, error) {
	items, err := s.store.ListMessages(ctx, projectID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return items, nil
}

func (s *Service) Notifications(ctx context.Context, userID string) ([]model.Notification, error) {
	items, err := s.store.ListNotifications(ctx, userID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// MarkRead flags the caller's notifications. Ids belonging to anyone else
// are ignored.
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	n, err := s.store.MarkNotificationsRead(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}

// FetchAndMarkRead lists notifications and marks the listed ones read in a
// single step.
func (s *Service) FetchAndMarkRead(ctx context.Context, userID string) ([]model.Notification, error) {
	items, err := s.store.FetchAndMarkRead(ctx, userID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}
	return items, nil
}

// DetectMentions returns, in roster order, the ids of members whose name
// appears in content as "@name".
func DetectMentions(content string, members []model.Member) []string {
	ids := make([]string, 0)
	seen := map[string]struct{}{}
	for _, m := range members {
		if m.Name == "" || m.ID == "" {
			continue
		}
		if !strings.Contains(content, "@"+m.Name) {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	return ids
}

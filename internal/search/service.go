package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"thinkbigger/api/internal/model"
)

// Service tries the engine first and falls back when it is unhealthy or
// fails. Index writes are fire-and-forget; Close waits for them.
type Service struct {
	engine   Engine
	fallback Searcher
	logger   *zap.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	indexed map[string]map[ResultType][]string // project -> type -> ids last pushed
}

// NewService wires a search facade. engine may be nil.
func NewService(engine Engine, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:   engine,
		fallback: fallback,
		logger:   logger,
		indexed:  map[string]map[ResultType][]string{},
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineUp() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search engine failed, falling back", zap.String("project_id", q.ProjectID), zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.String("project_id", q.ProjectID), zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project's current candidates and choices and
// removes the ones pushed earlier that are gone now. Messages are only
// ever added.
func (s *Service) IndexProject(projectID string, recs Records) {
	if !s.engineUp() {
		return
	}
	removed := s.swapIndexed(projectID, recs)
	s.async(func() {
		if err := s.engine.IndexRecords(recs); err != nil {
			s.logger.Warn("index project", zap.String("project_id", projectID), zap.Error(err))
		}
		for t, ids := range removed {
			if err := s.engine.DeleteRecords(t, ids); err != nil {
				s.logger.Warn("delete stale records", zap.String("project_id", projectID), zap.Error(err))
			}
		}
	})
}

// IndexMessage indexes one posted chat message.
func (s *Service) IndexMessage(msg model.Message) {
	if !s.engineUp() {
		return
	}
	recs := Records{Messages: []MessageRecord{MessageRecordFrom(msg)}}
	s.async(func() {
		if err := s.engine.IndexRecords(recs); err != nil {
			s.logger.Warn("index message", zap.String("message_id", msg.ID), zap.Error(err))
		}
	})
}

// Reindex pushes every record synchronously. Used at startup.
func (s *Service) Reindex(recs Records) error {
	if !s.engineUp() || recs.Empty() {
		return nil
	}
	byProject := map[string]Records{}
	for _, c := range recs.Candidates {
		r := byProject[c.ProjectID]
		r.Candidates = append(r.Candidates, c)
		byProject[c.ProjectID] = r
	}
	for _, c := range recs.Choices {
		r := byProject[c.ProjectID]
		r.Choices = append(r.Choices, c)
		byProject[c.ProjectID] = r
	}
	for projectID, r := range byProject {
		s.swapIndexed(projectID, r)
	}
	return s.engine.IndexRecords(recs)
}

// Close waits for in-flight index writes.
func (s *Service) Close() {
	s.wg.Wait()
}

func (s *Service) engineUp() bool {
	return s.engine != nil && s.engine.Healthy()
}

func (s *Service) async(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) swapIndexed(projectID string, recs Records) map[ResultType][]string {
	current := map[ResultType][]string{
		ResultCandidate: make([]string, 0, len(recs.Candidates)),
		ResultChoice:    make([]string, 0, len(recs.Choices)),
	}
	for _, c := range recs.Candidates {
		current[ResultCandidate] = append(current[ResultCandidate], c.ID)
	}
	for _, c := range recs.Choices {
		current[ResultChoice] = append(current[ResultChoice], c.ID)
	}

	s.mu.Lock()
	previous := s.indexed[projectID]
	s.indexed[projectID] = current
	s.mu.Unlock()

	removed := map[ResultType][]string{}
	for t, ids := range previous {
		keep := make(map[string]struct{}, len(current[t]))
		for _, id := range current[t] {
			keep[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := keep[id]; !ok {
				removed[t] = append(removed[t], id)
			}
		}
	}
	return removed
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxCandidates = "thinkbigger_candidates"
	idxChoices    = "thinkbigger_choices"
	idxMessages   = "thinkbigger_messages"
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects and configures indexes. An unreachable server is not
// an error: the client reports unhealthy and a background check recovers it.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{uid: idxCandidates, filterable: []string{"projectId"}, searchable: []string{"text"}},
		{uid: idxChoices, filterable: []string{"projectId", "subProblemId"}, searchable: []string{"text", "description", "subProblemTitle"}},
		{uid: idxMessages, filterable: []string{"projectId", "candidateId"}, searchable: []string{"content", "authorName"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.logger.Debug("create index (may already exist)", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health check.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one query per index in a single multi-search round trip.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxCandidates, ResultCandidate},
		{idxChoices, ResultChoice},
		{idxMessages, ResultMessage},
	}
	var queries []*meili.SearchRequest
	for _, t := range targets {
		if q.FilterType != "" && q.FilterType != t.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              t.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			Filter:                fmt.Sprintf("projectId = %q", q.ProjectID),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxCandidates:
		return ResultCandidate
	case idxChoices:
		return ResultChoice
	case idxMessages:
		return ResultMessage
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{
		Type:      rtyp,
		ID:        decodeString(hit, "id"),
		ProjectID: decodeString(hit, "projectId"),
	}
	switch rtyp {
	case ResultCandidate:
		r.Title = decodeString(hit, "text")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), r.Title)
	case ResultChoice:
		r.Title = decodeString(hit, "text")
		r.SubProblemID = decodeString(hit, "subProblemId")
		r.Snippet = firstNonBlank(
			decodeFormattedString(hit, "description"),
			decodeFormattedString(hit, "text"),
			decodeString(hit, "subProblemTitle"),
		)
	case ResultMessage:
		r.Title = decodeString(hit, "authorName")
		r.CandidateID = decodeString(hit, "candidateId")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexRecords adds or replaces records, one batch per index.
func (m *Meili) IndexRecords(recs Records) error {
	var errs []error
	if len(recs.Candidates) > 0 {
		if _, err := m.client.Index(idxCandidates).AddDocuments(recs.Candidates, nil); err != nil {
			errs = append(errs, fmt.Errorf("index candidates: %w", err))
		}
	}
	if len(recs.Choices) > 0 {
		if _, err := m.client.Index(idxChoices).AddDocuments(recs.Choices, nil); err != nil {
			errs = append(errs, fmt.Errorf("index choices: %w", err))
		}
	}
	if len(recs.Messages) > 0 {
		if _, err := m.client.Index(idxMessages).AddDocuments(recs.Messages, nil); err != nil {
			errs = append(errs, fmt.Errorf("index messages: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Meili) DeleteRecords(t ResultType, ids []string) error {
	var uid string
	switch t {
	case ResultCandidate:
		uid = idxCandidates
	case ResultChoice:
		uid = idxChoices
	case ResultMessage:
		uid = idxMessages
	default:
		return fmt.Errorf("unknown record type %q", t)
	}
	var errs []error
	for _, id := range ids {
		if _, err := m.client.Index(uid).DeleteDocument(id, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete %s %s: %w", t, id, err))
		}
	}
	return errors.Join(errs...)
}

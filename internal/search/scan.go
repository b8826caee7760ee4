package search

import (
	"context"
	"strings"
)

// Scanner searches a project's records in process by case-insensitive
// term matching. It backs search when Postgres full-text search is not
// available, as with the in-memory store.
type Scanner struct {
	load func(ctx context.Context, projectID string) (Records, error)
}

func NewScanner(load func(ctx context.Context, projectID string) (Records, error)) *Scanner {
	return &Scanner{load: load}
}

func (s *Scanner) Healthy() bool { return true }

// Search returns candidates, then choices, then messages; each hit must
// contain every query term.
func (s *Scanner) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	recs, err := s.load(ctx, q.ProjectID)
	if err != nil {
		return nil, 0, err
	}

	want := func(t ResultType) bool { return q.FilterType == "" || q.FilterType == t }
	var hits []Result
	if want(ResultCandidate) {
		for _, c := range recs.Candidates {
			if matches(terms, c.Text) {
				hits = append(hits, Result{Type: ResultCandidate, ID: c.ID, Title: c.Text, Snippet: c.Text, ProjectID: c.ProjectID})
			}
		}
	}
	if want(ResultChoice) {
		for _, c := range recs.Choices {
			if matches(terms, c.Text+" "+c.Description) {
				hits = append(hits, Result{
					Type:         ResultChoice,
					ID:           c.ID,
					Title:        c.Text,
					Snippet:      firstNonBlank(c.Description, c.Text),
					ProjectID:    c.ProjectID,
					SubProblemID: c.SubProblemID,
				})
			}
		}
	}
	if want(ResultMessage) {
		for _, m := range recs.Messages {
			if matches(terms, m.Content) {
				hits = append(hits, Result{
					Type:        ResultMessage,
					ID:          m.ID,
					Title:       m.AuthorName,
					Snippet:     m.Content,
					ProjectID:   m.ProjectID,
					CandidateID: m.CandidateID,
				})
			}
		}
	}

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(max(q.Offset, 0), total)
	end := min(start+limit, total)
	return hits[start:end], total, nil
}

func matches(terms []string, text string) bool {
	text = strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

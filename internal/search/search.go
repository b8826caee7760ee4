// Package search finds candidates, choices and chat messages within one
// project. Meilisearch serves queries while it is healthy; Postgres
// full-text search (or an in-process scan) answers otherwise.
package search

import (
	"context"

	"thinkbigger/api/internal/model"
)

type ResultType string

const (
	ResultCandidate ResultType = "candidate"
	ResultChoice    ResultType = "choice"
	ResultMessage   ResultType = "message"
)

// Result is a single hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	ProjectID    string     `json:"projectId"`
	SubProblemID string     `json:"subProblemId,omitempty"`
	CandidateID  string     `json:"candidateId,omitempty"`
}

// Query is always scoped to a single project.
type Query struct {
	ProjectID  string
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a searcher that also keeps its own index.
type Engine interface {
	Searcher
	IndexRecords(recs Records) error
	DeleteRecords(t ResultType, ids []string) error
}

type CandidateRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Text      string `json:"text"`
}

type ChoiceRecord struct {
	ID              string `json:"id"`
	ProjectID       string `json:"projectId"`
	SubProblemID    string `json:"subProblemId"`
	SubProblemTitle string `json:"subProblemTitle"`
	Text            string `json:"text"`
	Description     string `json:"description"`
}

type MessageRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	CandidateID string `json:"candidateId"`
	AuthorName  string `json:"authorName"`
	Content     string `json:"content"`
}

// Records is everything indexed for one or more projects.
type Records struct {
	Candidates []CandidateRecord
	Choices    []ChoiceRecord
	Messages   []MessageRecord
}

func (r Records) Empty() bool {
	return len(r.Candidates) == 0 && len(r.Choices) == 0 && len(r.Messages) == 0
}

// RecordsFrom flattens a loaded project and its messages into records.
func RecordsFrom(doc model.Document, messages []model.Message) Records {
	recs := Records{
		Candidates: make([]CandidateRecord, 0, len(doc.Candidates)),
		Choices:    make([]ChoiceRecord, 0),
		Messages:   make([]MessageRecord, 0, len(messages)),
	}
	for _, c := range doc.Candidates {
		recs.Candidates = append(recs.Candidates, CandidateRecord{ID: c.ID, ProjectID: doc.ID, Text: c.Text})
	}
	for _, sp := range doc.SubProblems {
		for _, ch := range sp.Choices {
			recs.Choices = append(recs.Choices, ChoiceRecord{
				ID:              ch.ID,
				ProjectID:       doc.ID,
				SubProblemID:    sp.ID,
				SubProblemTitle: sp.Title,
				Text:            ch.Text,
				Description:     ch.Description,
			})
		}
	}
	for _, m := range messages {
		recs.Messages = append(recs.Messages, MessageRecordFrom(m))
	}
	return recs
}

func MessageRecordFrom(m model.Message) MessageRecord {
	rec := MessageRecord{ID: m.ID, ProjectID: m.ProjectID, AuthorName: m.Author.Name, Content: m.Content}
	if m.CandidateID != nil {
		rec.CandidateID = *m.CandidateID
	}
	return rec
}

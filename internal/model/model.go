// Package model defines the project document shared by the working store,
// the reconciliation engine and the chat engine.
package model

import "time"

type QueryType string

const (
	QueryGeneral  QueryType = "general"
	QueryPartial  QueryType = "partial"
	QueryParallel QueryType = "parallel"
)

type DesireCategory string

const (
	DesireSelf       DesireCategory = "self"
	DesireTarget     DesireCategory = "target"
	DesireThirdParty DesireCategory = "third-party"
)

// DesireCategories lists categories in display order.
var DesireCategories = []DesireCategory{DesireSelf, DesireTarget, DesireThirdParty}

const (
	MinPassion = 1
	MaxPassion = 5
	MinRating  = 0
	MaxRating  = 5
)

type Project struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	ProblemStatement string    `json:"problemStatement"`
	OwnerID          string    `json:"ownerId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type SearchQuery struct {
	Type  QueryType `json:"type"`
	Query string    `json:"query"`
}

type SubProblem struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Choices       []Choice      `json:"choices"`
	SearchQueries []SearchQuery `json:"searchQueries"`
}

// Choice is an alternative collected under a sub-problem.
type Choice struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	Description     string `json:"description,omitempty"`
	IsOutsideDomain bool   `json:"isOutsideDomain"`
	Source          string `json:"source,omitempty"`
}

// Candidate is a proposed problem statement. Reactions maps member id to a
// passion level in [MinPassion, MaxPassion]; absent means no vote.
type Candidate struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Reactions map[string]int `json:"reactions"`
}

type Desire struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Category DesireCategory `json:"category"`
}

// SavedIdea captures one combination (sub-problem id -> choice id) and its
// ratings (desire id -> [MinRating, MaxRating]). Combination entries may
// point at choices that no longer exist.
type SavedIdea struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Combination map[string]string `json:"combination"`
	Ratings     map[string]int    `json:"ratings"`
}

type Member struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

// Identity is an already authenticated caller as handed over by the external
// auth service. It is trusted as-is.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Message struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	CandidateID *string   `json:"candidateId"`
	AuthorID    string    `json:"userId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	Author      Member    `json:"user"`
}

type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"userId"`
	MessageID   string               `json:"messageId"`
	Read        bool                 `json:"read"`
	CreatedAt   time.Time            `json:"createdAt"`
	Context     *NotificationContext `json:"message,omitempty"`
}

// NotificationContext is the message summary embedded in notification lists.
type NotificationContext struct {
	Content       string  `json:"content"`
	AuthorName    string  `json:"authorName"`
	AuthorAvatar  *string `json:"authorAvatar"`
	ProjectID     string  `json:"projectId"`
	ProjectTitle  string  `json:"projectTitle"`
	CandidateID   *string `json:"candidateId"`
	CandidateText string  `json:"candidateText,omitempty"`
}

// Snapshot is the savable subset of a project document.
type Snapshot struct {
	ProblemStatement string       `json:"problemStatement"`
	SubProblems      []SubProblem `json:"subProblems"`
	Candidates       []Candidate  `json:"candidates"`
	Desires          []Desire     `json:"desires"`
	SavedIdeas       []SavedIdea  `json:"savedIdeas"`
}

// Document is the full load shape of a project.
type Document struct {
	Project
	SubProblems []SubProblem `json:"subProblems"`
	Candidates  []Candidate  `json:"candidates"`
	Desires     []Desire     `json:"desires"`
	SavedIdeas  []SavedIdea  `json:"savedIdeas"`
	Members     []Member     `json:"members"`
}

// Snapshot returns a deep copy of the savable part of the document.
func (d Document) Snapshot() Snapshot {
	return Snapshot{
		ProblemStatement: d.ProblemStatement,
		SubProblems:      d.SubProblems,
		Candidates:       d.Candidates,
		Desires:          d.Desires,
		SavedIdeas:       d.SavedIdeas,
	}.Clone()
}

package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/workspace"
)

//go:embed templates/report.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string { return t.Format(layout) },
}).ParseFS(templateFS, "templates/report.html"))

// ReportData is the view model of the report template.
type ReportData struct {
	Title            string
	ProblemStatement string
	UpdatedAt        time.Time
	Members          []model.Member
	Candidates       []ReportCandidate
	SubProblems      []model.SubProblem
	Desires          []model.Desire
	Ideas            []ReportIdea
	Threads          []ReportThread
}

type ReportCandidate struct {
	Text  string
	Mean  float64
	Votes int
}

type ReportIdea struct {
	Title  string
	Parts  []ReportIdeaPart
	Scores []workspace.CategoryScore
}

// ReportIdeaPart is one row of an idea's combination. Choice is empty when
// the chosen alternative no longer exists.
type ReportIdeaPart struct {
	SubProblem string
	Choice     string
}

type ReportThread struct {
	Label    string
	Messages []ReportMessage
}

type ReportMessage struct {
	Author    string
	Content   string
	CreatedAt time.Time
}

// BuildReport assembles the report view of a project and its messages.
// Messages are grouped by thread: the project thread first, then one per
// candidate in ranking order. Threads of removed candidates come last.
func BuildReport(doc model.Document, messages []model.Message) ReportData {
	data := ReportData{
		Title:            doc.Title,
		ProblemStatement: doc.ProblemStatement,
		UpdatedAt:        doc.UpdatedAt,
		Members:          doc.Members,
		SubProblems:      doc.SubProblems,
		Desires:          doc.Desires,
	}

	ranked := workspace.RankCandidates(doc.Candidates)
	for _, c := range ranked {
		data.Candidates = append(data.Candidates, ReportCandidate{
			Text:  c.Text,
			Mean:  workspace.MeanReaction(c),
			Votes: len(c.Reactions),
		})
	}

	for _, idea := range doc.SavedIdeas {
		resolved := workspace.ResolveCombination(doc.SubProblems, idea.Combination)
		ri := ReportIdea{Title: idea.Title, Scores: workspace.IdeaScores(idea, doc.Desires)}
		for _, sp := range doc.SubProblems {
			if _, ok := idea.Combination[sp.ID]; !ok {
				continue
			}
			ri.Parts = append(ri.Parts, ReportIdeaPart{SubProblem: sp.Title, Choice: resolved[sp.ID].Text})
		}
		data.Ideas = append(data.Ideas, ri)
	}

	data.Threads = groupThreads(ranked, messages)
	return data
}

func groupThreads(ranked []model.Candidate, messages []model.Message) []ReportThread {
	byThread := map[string][]ReportMessage{}
	for _, m := range messages {
		key := ""
		if m.CandidateID != nil {
			key = *m.CandidateID
		}
		byThread[key] = append(byThread[key], ReportMessage{Author: m.Author.Name, Content: m.Content, CreatedAt: m.CreatedAt})
	}

	var threads []ReportThread
	take := func(key, label string) {
		if msgs, ok := byThread[key]; ok {
			threads = append(threads, ReportThread{Label: label, Messages: msgs})
			delete(byThread, key)
		}
	}
	take("", "Project discussion")
	for _, c := range ranked {
		take(c.ID, fmt.Sprintf("On %q", c.Text))
	}
	// Orphaned threads keep message order.
	for _, m := range messages {
		if m.CandidateID != nil {
			take(*m.CandidateID, "On a removed candidate")
		}
	}
	return threads
}

// RenderHTML renders the report template.
func RenderHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

package history

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"thinkbigger/api/internal/model"
)

// Change counts how one collection moved between two snapshots.
type Change struct {
	Collection string `json:"collection"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	Changed    int    `json:"changed"`
}

// Diff compares two snapshots collection by collection, by id. Collections
// that did not move are left out.
func Diff(from, to model.Snapshot) []Change {
	changes := make([]Change, 0, 5)
	if from.ProblemStatement != to.ProblemStatement {
		changes = append(changes, Change{Collection: "problemStatement", Changed: 1})
	}
	appendChange := func(c Change) {
		if c.Added+c.Removed+c.Changed > 0 {
			changes = append(changes, c)
		}
	}
	appendChange(diffByID("subProblems", from.SubProblems, to.SubProblems, func(s model.SubProblem) string { return s.ID }, subProblemEqual))
	appendChange(diffByID("candidates", from.Candidates, to.Candidates, func(c model.Candidate) string { return c.ID }, candidateEqual))
	appendChange(diffByID("desires", from.Desires, to.Desires, func(d model.Desire) string { return d.ID }, func(a, b model.Desire) bool { return a == b }))
	appendChange(diffByID("savedIdeas", from.SavedIdeas, to.SavedIdeas, func(i model.SavedIdea) string { return i.ID }, savedIdeaEqual))
	return changes
}

// Summary renders Diff as a one-line commit message.
func Summary(from, to model.Snapshot) string {
	changes := Diff(from, to)
	if len(changes) == 0 {
		return "save: no changes"
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		var counts []string
		if c.Added > 0 {
			counts = append(counts, fmt.Sprintf("+%d", c.Added))
		}
		if c.Removed > 0 {
			counts = append(counts, fmt.Sprintf("-%d", c.Removed))
		}
		if c.Changed > 0 {
			counts = append(counts, fmt.Sprintf("~%d", c.Changed))
		}
		parts = append(parts, c.Collection+" "+strings.Join(counts, " "))
	}
	return "save: " + strings.Join(parts, ", ")
}

func diffByID[T any](name string, from, to []T, id func(T) string, equal func(a, b T) bool) Change {
	change := Change{Collection: name}
	before := make(map[string]T, len(from))
	for _, item := range from {
		before[id(item)] = item
	}
	seen := make(map[string]struct{}, len(to))
	for _, item := range to {
		key := id(item)
		seen[key] = struct{}{}
		prev, ok := before[key]
		switch {
		case !ok:
			change.Added++
		case !equal(prev, item):
			change.Changed++
		}
	}
	for key := range before {
		if _, ok := seen[key]; !ok {
			change.Removed++
		}
	}
	return change
}

func subProblemEqual(a, b model.SubProblem) bool {
	return a.Title == b.Title && slices.Equal(a.Choices, b.Choices) && slices.Equal(a.SearchQueries, b.SearchQueries)
}

func candidateEqual(a, b model.Candidate) bool {
	return a.Text == b.Text && maps.Equal(a.Reactions, b.Reactions)
}

func savedIdeaEqual(a, b model.SavedIdea) bool {
	return a.Title == b.Title && maps.Equal(a.Combination, b.Combination) && maps.Equal(a.Ratings, b.Ratings)
}

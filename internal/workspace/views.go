package workspace

import (
	"sort"

	"thinkbigger/api/internal/model"
)

// IsComplete reports whether every sub-problem has a selection that names
// one of its current choices.
func IsComplete(subProblems []model.SubProblem, combination map[string]string) bool {
	for _, sp := range subProblems {
		choiceID, ok := combination[sp.ID]
		if !ok || !hasChoice(sp, choiceID) {
			return false
		}
	}
	return true
}

// IsComplete evaluates the store's current combination.
func (s *Store) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return IsComplete(s.state.snapshot.SubProblems, s.state.combination)
}

// MeanReaction is the average passion level, 0 without votes.
func MeanReaction(c model.Candidate) float64 {
	if len(c.Reactions) == 0 {
		return 0
	}
	sum := 0
	for _, level := range c.Reactions {
		sum += level
	}
	return float64(sum) / float64(len(c.Reactions))
}

// RankCandidates orders candidates by mean reaction, highest first. Equal
// scores keep their original relative order.
func RankCandidates(candidates []model.Candidate) []model.Candidate {
	ranked := make([]model.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return MeanReaction(ranked[i]) > MeanReaction(ranked[j])
	})
	return ranked
}

func (s *Store) RankedCandidates() []model.Candidate {
	return RankCandidates(s.Snapshot().Candidates)
}

type CategoryScore struct {
	Category model.DesireCategory `json:"category"`
	Percent  float64              `json:"percent"`
	Desires  int                  `json:"desires"`
}

// IdeaScores aggregates an idea's ratings per desire category as a
// percentage of the maximum reachable score. Categories without desires
// score 0.
func IdeaScores(idea model.SavedIdea, desires []model.Desire) []CategoryScore {
	out := make([]CategoryScore, 0, len(model.DesireCategories))
	for _, category := range model.DesireCategories {
		count, sum := 0, 0
		for _, d := range desires {
			if d.Category != category {
				continue
			}
			count++
			sum += idea.Ratings[d.ID]
		}
		score := CategoryScore{Category: category, Desires: count}
		if count > 0 {
			score.Percent = float64(sum) / float64(count*model.MaxRating) * 100
		}
		out = append(out, score)
	}
	return out
}

// ResolveCombination maps an idea's combination to choices that still exist.
// Missing sub-problems or choices are skipped.
func ResolveCombination(subProblems []model.SubProblem, combination map[string]string) map[string]model.Choice {
	out := make(map[string]model.Choice, len(combination))
	for _, sp := range subProblems {
		choiceID, ok := combination[sp.ID]
		if !ok {
			continue
		}
		for _, c := range sp.Choices {
			if c.ID == choiceID {
				out[sp.ID] = c
				break
			}
		}
	}
	return out
}

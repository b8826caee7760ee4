package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"thinkbigger/api/internal/model"
)

func TestRankCandidatesStableByMean(t *testing.T) {
	candidates := []model.Candidate{
		{ID: "none"},
		{ID: "low", Reactions: map[string]int{"a": 1, "b": 2}},
		{ID: "high", Reactions: map[string]int{"a": 5}},
		{ID: "tieA", Reactions: map[string]int{"a": 3}},
		{ID: "none2", Reactions: map[string]int{}},
		{ID: "tieB", Reactions: map[string]int{"a": 2, "b": 4}},
	}

	ranked := RankCandidates(candidates)

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"high", "tieA", "tieB", "low", "none", "none2"}, ids)
	assert.Equal(t, "none", candidates[0].ID, "input is not reordered")
}

func TestIdeaScores(t *testing.T) {
	desires := []model.Desire{
		{ID: "d1", Category: model.DesireSelf},
		{ID: "d2", Category: model.DesireSelf},
		{ID: "d3", Category: model.DesireTarget},
	}
	idea := model.SavedIdea{Ratings: map[string]int{"d1": 5, "d2": 0, "d3": 4}}

	scores := IdeaScores(idea, desires)

	assert.Equal(t, []CategoryScore{
		{Category: model.DesireSelf, Percent: 50, Desires: 2},
		{Category: model.DesireTarget, Percent: 80, Desires: 1},
		{Category: model.DesireThirdParty, Percent: 0, Desires: 0},
	}, scores)
}

func TestResolveCombinationToleratesDanglingChoice(t *testing.T) {
	subProblems := []model.SubProblem{{ID: "sp1", Choices: []model.Choice{{ID: "c2", Text: "two"}}}}
	got := ResolveCombination(subProblems, map[string]string{"sp1": "c1", "gone": "c9"})
	assert.Empty(t, got)

	got = ResolveCombination(subProblems, map[string]string{"sp1": "c2"})
	assert.Equal(t, "two", got["sp1"].Text)
}

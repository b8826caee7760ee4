package workspace

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkbigger/api/internal/model"
)

func newTestStore(t *testing.T) (*Store, *int) {
	t.Helper()
	seq := 0
	changes := 0
	s := New(WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("id%d", seq)
	}))
	s.OnChange(func() { changes++ })
	return s, &changes
}

func TestRemoveSubProblemDropsItsSelection(t *testing.T) {
	s, _ := newTestStore(t)
	sp1 := s.AddSubProblem("who")
	sp2 := s.AddSubProblem("how")
	c1 := s.AddChoice(sp1, ChoiceInput{Text: "kids"})
	c2 := s.AddChoice(sp2, ChoiceInput{Text: "games"})
	s.SelectChoice(sp1, c1)
	s.SelectChoice(sp2, c2)
	require.True(t, s.IsComplete())

	s.RemoveSubProblem(sp2)

	combo := s.Combination()
	assert.Len(t, combo, 1)
	assert.Equal(t, c1, combo[sp1])
	assert.True(t, s.IsComplete())

	s.RemoveChoice(sp1, c1)
	assert.False(t, s.IsComplete(), "selection of a removed choice is not complete")
}

func TestIsComplete(t *testing.T) {
	subProblems := []model.SubProblem{
		{ID: "sp1", Choices: []model.Choice{{ID: "c1"}, {ID: "c2"}}},
		{ID: "sp2", Choices: []model.Choice{{ID: "c3"}}},
	}
	assert.True(t, IsComplete(subProblems, map[string]string{"sp1": "c2", "sp2": "c3"}))
	assert.False(t, IsComplete(subProblems, map[string]string{"sp1": "c2"}))
	assert.False(t, IsComplete(subProblems, map[string]string{"sp1": "c3", "sp2": "c3"}), "choice from another sub-problem")
}

func TestSelectChoiceRejectsForeignChoice(t *testing.T) {
	s, changes := newTestStore(t)
	sp1 := s.AddSubProblem("a")
	sp2 := s.AddSubProblem("b")
	c2 := s.AddChoice(sp2, ChoiceInput{Text: "x"})
	before := *changes

	s.SelectChoice(sp1, c2)

	assert.Empty(t, s.Combination())
	assert.Equal(t, before, *changes)
}

func TestToggleReaction(t *testing.T) {
	s, _ := newTestStore(t)
	id := s.AddCandidate("how might we")

	s.ToggleReaction(id, "u1", 3)
	assert.Equal(t, map[string]int{"u1": 3}, s.Snapshot().Candidates[0].Reactions)

	s.ToggleReaction(id, "u1", 5)
	assert.Equal(t, map[string]int{"u1": 5}, s.Snapshot().Candidates[0].Reactions)

	s.ToggleReaction(id, "u1", 5)
	_, voted := s.Snapshot().Candidates[0].Reactions["u1"]
	assert.False(t, voted)

	s.ToggleReaction(id, "u1", 7)
	assert.Empty(t, s.Snapshot().Candidates[0].Reactions)
}

func TestSaveIdeaRequiresCompleteCombination(t *testing.T) {
	s, changes := newTestStore(t)
	_, ok := s.SaveIdea("nothing yet")
	assert.False(t, ok)

	sp1 := s.AddSubProblem("a")
	sp2 := s.AddSubProblem("b")
	c1 := s.AddChoice(sp1, ChoiceInput{Text: "x"})
	c2 := s.AddChoice(sp2, ChoiceInput{Text: "y"})
	s.SelectChoice(sp1, c1)

	before := *changes
	_, ok = s.SaveIdea("half")
	assert.False(t, ok)
	assert.Equal(t, before, *changes)
	assert.Empty(t, s.Snapshot().SavedIdeas)

	s.SelectChoice(sp2, c2)
	id, ok := s.SaveIdea("full")
	require.True(t, ok)

	ideas := s.Snapshot().SavedIdeas
	require.Len(t, ideas, 1)
	assert.Equal(t, id, ideas[0].ID)
	assert.Equal(t, map[string]string{sp1: c1, sp2: c2}, ideas[0].Combination)

	s.SelectChoice(sp1, c1)
	s.RemoveChoice(sp1, c1)
	assert.Equal(t, c1, s.Snapshot().SavedIdeas[0].Combination[sp1], "saved combination is not edited")
}

func TestRateIdeaClampsAndOverwrites(t *testing.T) {
	s, _ := newTestStore(t)
	sp := s.AddSubProblem("a")
	c := s.AddChoice(sp, ChoiceInput{Text: "x"})
	s.SelectChoice(sp, c)
	idea, ok := s.SaveIdea("idea")
	require.True(t, ok)

	s.RateIdea(idea, "d1", 9)
	s.RateIdea(idea, "d2", 2)
	s.RateIdea(idea, "d2", -1)

	assert.Equal(t, map[string]int{"d1": 5, "d2": 0}, s.Snapshot().SavedIdeas[0].Ratings)
}

func TestMutationsNotifyOnlyOnChange(t *testing.T) {
	s, changes := newTestStore(t)
	s.SetProblemStatement("p")
	s.SetProblemStatement("p")
	s.UpdateSubProblem("missing", "x")
	s.RemoveCandidate("missing")
	s.AddSearchQuery("missing", model.QueryGeneral, "q")
	assert.Equal(t, 1, *changes)
}

func TestSnapshotIsIsolatedFromLaterMutations(t *testing.T) {
	s, _ := newTestStore(t)
	id := s.AddCandidate("c")
	snap := s.Snapshot()

	s.ToggleReaction(id, "u1", 2)

	assert.Empty(t, snap.Candidates[0].Reactions)
}

func TestLoadDoesNotNotify(t *testing.T) {
	s, changes := newTestStore(t)
	s.Load(model.Document{
		Project:    model.Project{ID: "p1", ProblemStatement: "ps"},
		Candidates: []model.Candidate{{ID: "k1", Text: "t"}},
		Members:    []model.Member{{ID: "u1", Name: "Aki"}},
	})
	assert.Equal(t, 0, *changes)
	assert.Equal(t, "p1", s.ProjectID())
	assert.Equal(t, "ps", s.Document().ProblemStatement)
	require.NotNil(t, s.Snapshot().Candidates[0].Reactions)
	assert.Len(t, s.Members(), 1)
}

func TestAddSearchQuery(t *testing.T) {
	s, _ := newTestStore(t)
	sp := s.AddSubProblem("a")
	s.AddSearchQuery(sp, model.QueryParallel, "feeding kids vegetables")
	s.AddSearchQuery(sp, model.QueryType("bogus"), "ignored")

	queries := s.Snapshot().SubProblems[0].SearchQueries
	require.Len(t, queries, 1)
	assert.Equal(t, model.SearchQuery{Type: model.QueryParallel, Query: "feeding kids vegetables"}, queries[0])
}

func TestDesireLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Empty(t, s.AddDesire("x", model.DesireCategory("other")))
	id := s.AddDesire("be proud", model.DesireSelf)
	s.UpdateDesire(id, "feel proud")
	require.Equal(t, "feel proud", s.Snapshot().Desires[0].Text)
	s.RemoveDesire(id)
	assert.Empty(t, s.Snapshot().Desires)
}

func TestRandomizeCombination(t *testing.T) {
	s, _ := newTestStore(t)
	sp1 := s.AddSubProblem("a")
	s.AddSubProblem("empty")
	s.AddChoice(sp1, ChoiceInput{Text: "x"})
	last := s.AddChoice(sp1, ChoiceInput{Text: "y"})

	s.RandomizeCombination(func(n int) int { return n - 1 })

	assert.Equal(t, map[string]string{sp1: last}, s.Combination())
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCloneDoesNotAlias(t *testing.T) {
	src := Snapshot{
		SubProblems: []SubProblem{{ID: "sp1", Choices: []Choice{{ID: "c1"}}}},
		Candidates:  []Candidate{{ID: "k1", Reactions: map[string]int{"u1": 3}}},
		SavedIdeas:  []SavedIdea{{ID: "i1", Combination: map[string]string{"sp1": "c1"}, Ratings: map[string]int{}}},
	}
	cp := src.Clone()

	cp.SubProblems[0].Choices[0].Text = "changed"
	cp.Candidates[0].Reactions["u1"] = 5
	cp.SavedIdeas[0].Combination["sp1"] = "c2"

	assert.Equal(t, "", src.SubProblems[0].Choices[0].Text)
	assert.Equal(t, 3, src.Candidates[0].Reactions["u1"])
	assert.Equal(t, "c1", src.SavedIdeas[0].Combination["sp1"])
}

func TestSnapshotCloneNormalizesNil(t *testing.T) {
	cp := Snapshot{}.Clone()
	require.NotNil(t, cp.SubProblems)
	require.NotNil(t, cp.Candidates)
	require.NotNil(t, cp.Desires)
	require.NotNil(t, cp.SavedIdeas)
}

func TestClampRating(t *testing.T) {
	assert.Equal(t, 0, ClampRating(-2))
	assert.Equal(t, 3, ClampRating(3))
	assert.Equal(t, 5, ClampRating(9))
}

func TestMergeMembersDeduplicatesOwner(t *testing.T) {
	owner := Member{ID: "u1", Name: "Aki"}
	got := MergeMembers(&owner, []Member{{ID: "u2", Name: "Ben"}, {ID: "u1", Name: "Aki again"}})
	require.Len(t, got, 2)
	assert.Equal(t, "Aki", got[0].Name)
	assert.Equal(t, "u2", got[1].ID)
}

package history

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkbigger/api/internal/model"
)

var avery = model.Identity{ID: "user-1", Name: "Avery"}

func baseSnapshot() model.Snapshot {
	return model.Snapshot{
		ProblemStatement: "Commuting costs too much",
		SubProblems: []model.SubProblem{{
			ID:    "sp1",
			Title: "Transport",
			Choices: []model.Choice{
				{ID: "c1", Text: "Bike"},
				{ID: "c2", Text: "Carpool"},
			},
		}},
		Candidates: []model.Candidate{{ID: "k1", Text: "Cheaper commute", Reactions: map[string]int{"user-1": 4}}},
		Desires:    []model.Desire{{ID: "d1", Text: "Save money", Category: model.DesireSelf}},
	}
}

func TestRecordAndReadBack(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil)

	first, ok, err := svc.Record("p1", baseSnapshot(), avery)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, first.Hash, 40)
	assert.Equal(t, "Avery", first.Author)
	_, err = os.Stat(filepath.Join(dir, "p1", ".git"))
	require.NoError(t, err)

	next := baseSnapshot()
	next.Candidates = append(next.Candidates, model.Candidate{ID: "k2", Text: "Work remotely"})
	next.Desires = nil
	second, ok, err := svc.Record("p1", next, avery)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "save: candidates +1, desires -1", second.Message)

	commits, err := svc.History("p1", 0)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, second.Hash, commits[0].Hash)
	assert.Equal(t, first.Hash, commits[1].Hash)

	snap, commit, err := svc.SnapshotAt("p1", first.Hash)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, commit.Hash)
	assert.Equal(t, baseSnapshot(), snap)

	limited, err := svc.History("p1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordSkipsUnchangedSnapshot(t *testing.T) {
	svc := New(t.TempDir(), nil)

	first, ok, err := svc.Record("p1", baseSnapshot(), avery)
	require.NoError(t, err)
	require.True(t, ok)

	again, ok, err := svc.Record("p1", baseSnapshot(), avery)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first.Hash, again.Hash)

	commits, err := svc.History("p1", 0)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestHistoryOfUnsavedProjectIsEmpty(t *testing.T) {
	svc := New(t.TempDir(), nil)

	commits, err := svc.History("never-saved", 10)
	require.NoError(t, err)
	assert.Empty(t, commits)

	_, _, err = svc.SnapshotAt("never-saved", "abc1234")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotAtUnknownHash(t *testing.T) {
	svc := New(t.TempDir(), nil)
	_, _, err := svc.Record("p1", baseSnapshot(), avery)
	require.NoError(t, err)

	_, _, err = svc.SnapshotAt("p1", "0123456789012345678901234567890123456789")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRecordsAreSerialized(t *testing.T) {
	svc := New(t.TempDir(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := baseSnapshot()
			snap.ProblemStatement = string(rune('a' + i))
			_, _, err := svc.Record("p1", snap, avery)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	commits, err := svc.History("p1", 0)
	require.NoError(t, err)
	assert.Len(t, commits, 8)
}

func TestDiff(t *testing.T) {
	from := baseSnapshot()
	to := baseSnapshot()
	to.ProblemStatement = "Rent costs too much"
	to.SubProblems[0].Choices = to.SubProblems[0].Choices[:1]
	to.Candidates[0].Reactions = map[string]int{"user-1": 5}
	to.SavedIdeas = []model.SavedIdea{{ID: "i1", Title: "Bike", Combination: map[string]string{"sp1": "c1"}}}

	assert.Equal(t, []Change{
		{Collection: "problemStatement", Changed: 1},
		{Collection: "subProblems", Changed: 1},
		{Collection: "candidates", Changed: 1},
		{Collection: "savedIdeas", Added: 1},
	}, Diff(from, to))
	assert.Empty(t, Diff(from, baseSnapshot()))
	assert.Equal(t, "save: no changes", Summary(from, baseSnapshot()))
}

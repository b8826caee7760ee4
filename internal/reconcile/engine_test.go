package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkbigger/api/internal/model"
)

type fakeOps[T any] struct {
	ids    []string
	failOn string
	err    error
}

func (f *fakeOps[T]) check(op string) error {
	if f.failOn == op {
		return f.err
	}
	return nil
}

func (f *fakeOps[T]) ExistingIDs(context.Context) ([]string, error) { return f.ids, f.check("existing") }
func (f *fakeOps[T]) Insert(context.Context, []Entry[T]) error      { return f.check("insert") }
func (f *fakeOps[T]) Update(context.Context, Entry[T]) error        { return f.check("update") }
func (f *fakeOps[T]) Delete(context.Context, []string) error        { return f.check("delete") }
func (f *fakeOps[T]) DeleteAll(context.Context) (int, error)        { return len(f.ids), f.check("delete-all") }

type fakeTx struct {
	statementErr error
	candidates   *fakeOps[model.Candidate]
	desires      *fakeOps[model.Desire]
	ideas        *fakeOps[model.SavedIdea]
	subProblems  *fakeOps[model.SubProblem]
	commitErr    error
	committed    bool
	rolledBack   bool
	statement    string
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		candidates:  &fakeOps[model.Candidate]{},
		desires:     &fakeOps[model.Desire]{},
		ideas:       &fakeOps[model.SavedIdea]{},
		subProblems: &fakeOps[model.SubProblem]{},
	}
}

func (f *fakeTx) SetProblemStatement(_ context.Context, _ string, statement string) error {
	f.statement = statement
	return f.statementErr
}
func (f *fakeTx) Candidates(string) Ops[model.Candidate]   { return f.candidates }
func (f *fakeTx) Desires(string) Ops[model.Desire]         { return f.desires }
func (f *fakeTx) SavedIdeas(string) Ops[model.SavedIdea]   { return f.ideas }
func (f *fakeTx) SubProblems(string) Ops[model.SubProblem] { return f.subProblems }
func (f *fakeTx) Commit() error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}
func (f *fakeTx) Rollback() error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	err   error
	calls int
}

func (f *fakeBeginner) BeginReconcile(context.Context) (Tx, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func snapshot() model.Snapshot {
	return model.Snapshot{
		ProblemStatement: "ps",
		SubProblems:      []model.SubProblem{{ID: "sp1", Title: "Route", Choices: []model.Choice{{ID: "c1", Text: "Bus"}}}},
		Candidates:       []model.Candidate{{ID: "k1", Text: "one"}, {ID: "k2", Text: "two"}},
		Desires:          []model.Desire{{ID: "d1", Text: "cheap", Category: model.DesireSelf}},
		SavedIdeas:       []model.SavedIdea{{ID: "i1", Title: "idea"}},
	}
}

func TestReconcileCommitsOnePass(t *testing.T) {
	tx := newFakeTx()
	tx.candidates.ids = []string{"k1", "gone"}
	db := &fakeBeginner{tx: tx}

	report, err := NewEngine(db, nil).Reconcile(context.Background(), "p1", snapshot())
	require.NoError(t, err)

	assert.Equal(t, 1, db.calls)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	assert.Equal(t, "ps", tx.statement)
	require.Len(t, report.Results, 4)
	assert.Equal(t, Result{Collection: "candidates", Policy: "preserve-referenced", Inserted: 1, Updated: 1, Deleted: 1}, report.Results[0])
	assert.Equal(t, "desires", report.Results[1].Collection)
	assert.Equal(t, "replace-all", report.Results[1].Policy)
	assert.Equal(t, "saved_ideas", report.Results[2].Collection)
	assert.Equal(t, "sub_problems", report.Results[3].Collection)
}

func TestReconcileRollsBackOnCollectionFailure(t *testing.T) {
	boom := errors.New("disk full")
	tx := newFakeTx()
	tx.ideas.failOn, tx.ideas.err = "insert", boom

	_, err := NewEngine(&fakeBeginner{tx: tx}, nil).Reconcile(context.Background(), "p1", snapshot())
	require.Error(t, err)

	var recErr *Error
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "saved_ideas", recErr.Collection)
	assert.Equal(t, "p1", recErr.ProjectID)
	assert.ErrorIs(t, err, boom)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestReconcileRollsBackWhenProjectUpdateFails(t *testing.T) {
	missing := errors.New("no such project")
	tx := newFakeTx()
	tx.statementErr = missing

	_, err := NewEngine(&fakeBeginner{tx: tx}, nil).Reconcile(context.Background(), "p1", snapshot())

	var recErr *Error
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "project", recErr.Collection)
	assert.ErrorIs(t, err, missing)
	assert.True(t, tx.rolledBack)
}

func TestReconcileCommitFailure(t *testing.T) {
	tx := newFakeTx()
	tx.commitErr = errors.New("serialization failure")

	_, err := NewEngine(&fakeBeginner{tx: tx}, nil).Reconcile(context.Background(), "p1", snapshot())

	var recErr *Error
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "commit", recErr.Collection)
	assert.True(t, tx.rolledBack)
}

func TestReconcileRejectsInvalidSnapshotsBeforeStorage(t *testing.T) {
	cases := map[string]func(*model.Snapshot){
		"blank candidate id":  func(s *model.Snapshot) { s.Candidates[0].ID = "" },
		"repeated candidate":  func(s *model.Snapshot) { s.Candidates[1].ID = "k1" },
		"blank desire id":     func(s *model.Snapshot) { s.Desires[0].ID = " " },
		"repeated idea":       func(s *model.Snapshot) { s.SavedIdeas = append(s.SavedIdeas, s.SavedIdeas[0]) },
		"blank sub-problem":   func(s *model.Snapshot) { s.SubProblems[0].ID = "" },
		"choice across parts": func(s *model.Snapshot) { s.SubProblems = append(s.SubProblems, model.SubProblem{ID: "sp2", Choices: []model.Choice{{ID: "c1"}}}) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			snap := snapshot()
			mutate(&snap)
			db := &fakeBeginner{tx: newFakeTx()}

			_, err := NewEngine(db, nil).Reconcile(context.Background(), "p1", snap)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
			assert.Zero(t, db.calls)
		})
	}
}

func TestReconcileRequiresProjectID(t *testing.T) {
	db := &fakeBeginner{tx: newFakeTx()}
	_, err := NewEngine(db, nil).Reconcile(context.Background(), "", snapshot())
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.Zero(t, db.calls)
}

func TestReconcileBeginFailure(t *testing.T) {
	_, err := NewEngine(&fakeBeginner{err: errors.New("pool exhausted")}, nil).Reconcile(context.Background(), "p1", snapshot())
	var recErr *Error
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "begin", recErr.Collection)
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"thinkbigger/api/internal/model"
)

// ErrInvalidSnapshot marks snapshots rejected before any storage access.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Error is the single failure returned by a reconciliation pass. The
// transaction has been rolled back when it is returned.
type Error struct {
	ProjectID  string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconcile project %s: %s: %v", e.ProjectID, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Tx is one storage transaction scoped to reconciliation work.
type Tx interface {
	SetProblemStatement(ctx context.Context, projectID, statement string) error
	Candidates(projectID string) Ops[model.Candidate]
	Desires(projectID string) Ops[model.Desire]
	SavedIdeas(projectID string) Ops[model.SavedIdea]
	SubProblems(projectID string) Ops[model.SubProblem]
	Commit() error
	Rollback() error
}

type TxBeginner interface {
	BeginReconcile(ctx context.Context) (Tx, error)
}

type Report struct {
	ProjectID string        `json:"projectId"`
	Results   []Result      `json:"results"`
	Duration  time.Duration `json:"duration"`
}

type Engine struct {
	db     TxBeginner
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(db TxBeginner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, logger: logger, now: time.Now}
}

// Collection policies. Candidates are referenced by chat threads, so their
// identity must survive saves. Choices live inside the sub-problem
// collection; switching them to PreserveReferenced only needs a separate
// choice collection with that policy.
const (
	candidatePolicy  = PreserveReferenced
	desirePolicy     = ReplaceAll
	savedIdeaPolicy  = ReplaceAll
	subProblemPolicy = ReplaceAll
)

// Reconcile makes the persisted project equal to snap in one transaction.
func (e *Engine) Reconcile(ctx context.Context, projectID string, snap model.Snapshot) (Report, error) {
	report := Report{ProjectID: projectID}
	if err := Validate(projectID, snap); err != nil {
		return report, err
	}
	started := e.now()

	tx, err := e.db.BeginReconcile(ctx)
	if err != nil {
		return report, &Error{ProjectID: projectID, Collection: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				e.logger.Warn("reconcile rollback failed", zap.String("project_id", projectID), zap.Error(rbErr))
			}
		}
	}()

	if err := tx.SetProblemStatement(ctx, projectID, snap.ProblemStatement); err != nil {
		return report, &Error{ProjectID: projectID, Collection: "project", Err: err}
	}

	steps := []func() (Result, error){
		func() (Result, error) {
			return Collection[model.Candidate]{
				Name: "candidates", Policy: candidatePolicy,
				ID:  func(c model.Candidate) string { return c.ID },
				Ops: tx.Candidates(projectID),
			}.Apply(ctx, snap.Candidates)
		},
		func() (Result, error) {
			return Collection[model.Desire]{
				Name: "desires", Policy: desirePolicy,
				ID:  func(d model.Desire) string { return d.ID },
				Ops: tx.Desires(projectID),
			}.Apply(ctx, snap.Desires)
		},
		func() (Result, error) {
			return Collection[model.SavedIdea]{
				Name: "saved_ideas", Policy: savedIdeaPolicy,
				ID:  func(i model.SavedIdea) string { return i.ID },
				Ops: tx.SavedIdeas(projectID),
			}.Apply(ctx, snap.SavedIdeas)
		},
		func() (Result, error) {
			return Collection[model.SubProblem]{
				Name: "sub_problems", Policy: subProblemPolicy,
				ID:  func(s model.SubProblem) string { return s.ID },
				Ops: tx.SubProblems(projectID),
			}.Apply(ctx, snap.SubProblems)
		},
	}
	for _, step := range steps {
		result, err := step()
		if err != nil {
			return report, &Error{ProjectID: projectID, Collection: result.Collection, Err: err}
		}
		report.Results = append(report.Results, result)
	}

	if err := tx.Commit(); err != nil {
		return report, &Error{ProjectID: projectID, Collection: "commit", Err: err}
	}
	committed = true
	report.Duration = e.now().Sub(started)

	fields := []zap.Field{zap.String("project_id", projectID), zap.Duration("duration", report.Duration)}
	for _, r := range report.Results {
		fields = append(fields, zap.Any(r.Collection, r))
	}
	e.logger.Info("project reconciled", fields...)
	return report, nil
}

// Validate rejects snapshots with blank or repeated identifiers.
func Validate(projectID string, snap model.Snapshot) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidSnapshot)
	}
	check := func(collection string, ids []string) error {
		seen := make(map[string]struct{}, len(ids))
		for i, id := range ids {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: %s[%d] has no id", ErrInvalidSnapshot, collection, i)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s id %q repeated", ErrInvalidSnapshot, collection, id)
			}
			seen[id] = struct{}{}
		}
		return nil
	}

	ids := make([]string, 0, len(snap.Candidates))
	for _, c := range snap.Candidates {
		ids = append(ids, c.ID)
	}
	if err := check("candidates", ids); err != nil {
		return err
	}
	ids = ids[:0]
	for _, d := range snap.Desires {
		ids = append(ids, d.ID)
	}
	if err := check("desires", ids); err != nil {
		return err
	}
	ids = ids[:0]
	for _, i := range snap.SavedIdeas {
		ids = append(ids, i.ID)
	}
	if err := check("savedIdeas", ids); err != nil {
		return err
	}
	ids = ids[:0]
	var choiceIDs []string
	for _, sp := range snap.SubProblems {
		ids = append(ids, sp.ID)
		for _, c := range sp.Choices {
			choiceIDs = append(choiceIDs, c.ID)
		}
	}
	if err := check("subProblems", ids); err != nil {
		return err
	}
	return check("choices", choiceIDs)
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/reconcile"
)

type pgReconcileTx struct {
	tx *sql.Tx
}

func (t *pgReconcileTx) SetProblemStatement(ctx context.Context, projectID, statement string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE projects
		SET problem_statement=$2, updated_at=NOW()
		WHERE id=$1
	`, projectID, statement)
	if err != nil {
		return classify("update problem statement", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update problem statement rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

func (t *pgReconcileTx) Commit() error   { return t.tx.Commit() }
func (t *pgReconcileTx) Rollback() error { return t.tx.Rollback() }

func (t *pgReconcileTx) Candidates(projectID string) reconcile.Ops[model.Candidate] {
	return pgCandidates{tableScope{tx: t.tx, table: "candidates", projectID: projectID}}
}

func (t *pgReconcileTx) Desires(projectID string) reconcile.Ops[model.Desire] {
	return pgDesires{tableScope{tx: t.tx, table: "desires", projectID: projectID}}
}

func (t *pgReconcileTx) SavedIdeas(projectID string) reconcile.Ops[model.SavedIdea] {
	return pgSavedIdeas{tableScope{tx: t.tx, table: "saved_ideas", projectID: projectID}}
}

func (t *pgReconcileTx) SubProblems(projectID string) reconcile.Ops[model.SubProblem] {
	return pgSubProblems{tableScope{tx: t.tx, table: "sub_problems", projectID: projectID}}
}

// tableScope holds the id-level operations shared by every project-owned
// table. table is always one of the constant names above.
type tableScope struct {
	tx        *sql.Tx
	table     string
	projectID string
}

func (s tableScope) ExistingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT id FROM `+s.table+` WHERE project_id=$1 ORDER BY position ASC`, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", s.table, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", s.table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s ids: %w", s.table, err)
	}
	return ids, nil
}

func (s tableScope) Delete(ctx context.Context, ids []string) error {
	if _, err := s.tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE project_id=$1 AND id = ANY($2)`, s.projectID, ids); err != nil {
		return classify("delete "+s.table, err)
	}
	return nil
}

func (s tableScope) DeleteAll(ctx context.Context) (int, error) {
	result, err := s.tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE project_id=$1`, s.projectID)
	if err != nil {
		return 0, classify("clear "+s.table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear %s rows: %w", s.table, err)
	}
	return int(affected), nil
}

type pgCandidates struct{ tableScope }

func (p pgCandidates) Insert(ctx context.Context, entries []reconcile.Entry[model.Candidate]) error {
	for _, e := range entries {
		reactions, err := encodeText(nonNilMap(e.Item.Reactions))
		if err != nil {
			return err
		}
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO candidates (id, project_id, text, reactions, position)
			VALUES ($1, $2, $3, $4, $5)
		`, e.Item.ID, p.projectID, e.Item.Text, reactions, e.Position); err != nil {
			return classify("insert candidate "+e.Item.ID, err)
		}
	}
	return nil
}

func (p pgCandidates) Update(ctx context.Context, e reconcile.Entry[model.Candidate]) error {
	reactions, err := encodeText(nonNilMap(e.Item.Reactions))
	if err != nil {
		return err
	}
	if _, err := p.tx.ExecContext(ctx, `
		UPDATE candidates
		SET text=$3, reactions=$4, position=$5
		WHERE project_id=$1 AND id=$2
	`, p.projectID, e.Item.ID, e.Item.Text, reactions, e.Position); err != nil {
		return classify("update candidate "+e.Item.ID, err)
	}
	return nil
}

type pgDesires struct{ tableScope }

func (p pgDesires) Insert(ctx context.Context, entries []reconcile.Entry[model.Desire]) error {
	for _, e := range entries {
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO desires (id, project_id, text, category, position)
			VALUES ($1, $2, $3, $4, $5)
		`, e.Item.ID, p.projectID, e.Item.Text, string(e.Item.Category), e.Position); err != nil {
			return classify("insert desire "+e.Item.ID, err)
		}
	}
	return nil
}

func (p pgDesires) Update(ctx context.Context, e reconcile.Entry[model.Desire]) error {
	if _, err := p.tx.ExecContext(ctx, `
		UPDATE desires SET text=$3, category=$4, position=$5
		WHERE project_id=$1 AND id=$2
	`, p.projectID, e.Item.ID, e.Item.Text, string(e.Item.Category), e.Position); err != nil {
		return classify("update desire "+e.Item.ID, err)
	}
	return nil
}

type pgSavedIdeas struct{ tableScope }

func (p pgSavedIdeas) columns(idea model.SavedIdea) (string, string, error) {
	combination, err := encodeText(nonNilMap(idea.Combination))
	if err != nil {
		return "", "", err
	}
	ratings, err := encodeText(nonNilMap(idea.Ratings))
	if err != nil {
		return "", "", err
	}
	return combination, ratings, nil
}

func (p pgSavedIdeas) Insert(ctx context.Context, entries []reconcile.Entry[model.SavedIdea]) error {
	for _, e := range entries {
		combination, ratings, err := p.columns(e.Item)
		if err != nil {
			return err
		}
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO saved_ideas (id, project_id, title, combination, ratings, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.Item.ID, p.projectID, e.Item.Title, combination, ratings, e.Position); err != nil {
			return classify("insert saved idea "+e.Item.ID, err)
		}
	}
	return nil
}

func (p pgSavedIdeas) Update(ctx context.Context, e reconcile.Entry[model.SavedIdea]) error {
	combination, ratings, err := p.columns(e.Item)
	if err != nil {
		return err
	}
	if _, err := p.tx.ExecContext(ctx, `
		UPDATE saved_ideas SET title=$3, combination=$4, ratings=$5, position=$6
		WHERE project_id=$1 AND id=$2
	`, p.projectID, e.Item.ID, e.Item.Title, combination, ratings, e.Position); err != nil {
		return classify("update saved idea "+e.Item.ID, err)
	}
	return nil
}

// pgSubProblems writes each sub-problem together with its ordered choices.
// Choices are removed through the ON DELETE CASCADE on their parent.
type pgSubProblems struct{ tableScope }

func (p pgSubProblems) Insert(ctx context.Context, entries []reconcile.Entry[model.SubProblem]) error {
	for _, e := range entries {
		queries, err := encodeText(nonNilSlice(e.Item.SearchQueries))
		if err != nil {
			return err
		}
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO sub_problems (id, project_id, title, search_queries, position)
			VALUES ($1, $2, $3, $4, $5)
		`, e.Item.ID, p.projectID, e.Item.Title, queries, e.Position); err != nil {
			return classify("insert sub-problem "+e.Item.ID, err)
		}
		if err := p.insertChoices(ctx, e.Item); err != nil {
			return err
		}
	}
	return nil
}

func (p pgSubProblems) Update(ctx context.Context, e reconcile.Entry[model.SubProblem]) error {
	queries, err := encodeText(nonNilSlice(e.Item.SearchQueries))
	if err != nil {
		return err
	}
	if _, err := p.tx.ExecContext(ctx, `
		UPDATE sub_problems SET title=$3, search_queries=$4, position=$5
		WHERE project_id=$1 AND id=$2
	`, p.projectID, e.Item.ID, e.Item.Title, queries, e.Position); err != nil {
		return classify("update sub-problem "+e.Item.ID, err)
	}
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM choices WHERE sub_problem_id=$1`, e.Item.ID); err != nil {
		return classify("clear choices "+e.Item.ID, err)
	}
	return p.insertChoices(ctx, e.Item)
}

func (p pgSubProblems) insertChoices(ctx context.Context, sp model.SubProblem) error {
	for i, c := range sp.Choices {
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO choices (id, sub_problem_id, text, description, is_outside_domain, source, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, sp.ID, c.Text, c.Description, c.IsOutsideDomain, c.Source, i); err != nil {
			return classify("insert choice "+c.ID, err)
		}
	}
	return nil
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS answers searches from the generated tsvector columns.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.ProjectID}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultCandidate {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'candidate'::text AS type, c.id, c.text AS title,
				ts_headline('english', c.text, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS sub_problem_id, ''::text AS candidate_id,
				ts_rank(c.fts, %[1]s) AS rank
			FROM candidates c
			WHERE c.project_id = $2 AND c.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultChoice {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'choice'::text AS type, ch.id, ch.text AS title,
				ts_headline('english', ch.text || ' ' || ch.description, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				sp.id AS sub_problem_id, ''::text AS candidate_id,
				ts_rank(ch.fts, %[1]s) AS rank
			FROM choices ch
			JOIN sub_problems sp ON sp.id = ch.sub_problem_id
			WHERE sp.project_id = $2 AND ch.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultMessage {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id, u.name AS title,
				ts_headline('english', m.content, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS sub_problem_id, coalesce(m.candidate_id, '') AS candidate_id,
				ts_rank(m.fts, %[1]s) AS rank
			FROM messages m
			JOIN users u ON u.id = m.author_id
			WHERE m.project_id = $2 AND m.fts @@ %[1]s`, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, sub_problem_id, candidate_id
		FROM (%s) sub
		ORDER BY rank DESC, id ASC
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{ProjectID: q.ProjectID}
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SubProblemID, &r.CandidateID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (Records, error) {
	recs := Records{
		Candidates: make([]CandidateRecord, 0),
		Choices:    make([]ChoiceRecord, 0),
		Messages:   make([]MessageRecord, 0),
	}

	err := p.each(ctx, `SELECT id, project_id, text FROM candidates`, func(rows *sql.Rows) error {
		var r CandidateRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Text); err != nil {
			return err
		}
		recs.Candidates = append(recs.Candidates, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load candidates: %w", err)
	}

	err = p.each(ctx, `
		SELECT ch.id, sp.project_id, sp.id, sp.title, ch.text, ch.description
		FROM choices ch
		JOIN sub_problems sp ON sp.id = ch.sub_problem_id
	`, func(rows *sql.Rows) error {
		var r ChoiceRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.SubProblemID, &r.SubProblemTitle, &r.Text, &r.Description); err != nil {
			return err
		}
		recs.Choices = append(recs.Choices, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load choices: %w", err)
	}

	err = p.each(ctx, `
		SELECT m.id, m.project_id, coalesce(m.candidate_id, ''), u.name, m.content
		FROM messages m
		JOIN users u ON u.id = m.author_id
	`, func(rows *sql.Rows) error {
		var r MessageRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.CandidateID, &r.AuthorName, &r.Content); err != nil {
			return err
		}
		recs.Messages = append(recs.Messages, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load messages: %w", err)
	}
	return recs, nil
}

func (p *PgFTS) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

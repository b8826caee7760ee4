package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/reconcile"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser mirrors a user from the external identity service. A nil
// avatar keeps the stored one.
func (s *PostgresStore) UpsertUser(ctx context.Context, user model.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, avatar)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, avatar=COALESCE(EXCLUDED.avatar, users.avatar)
	`, user.ID, user.Name, user.Avatar)
	return classify("upsert user", err)
}

func (s *PostgresStore) CreateProject(ctx context.Context, project model.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, problem_statement, owner_id)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Title, project.ProblemStatement, project.OwnerID)
	return classify("create project", err)
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	return getProject(ctx, s.db, projectID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getProject(ctx context.Context, q queryer, projectID string) (model.Project, error) {
	var p model.Project
	err := q.QueryRowContext(ctx, `
		SELECT id, title, problem_statement, owner_id, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&p.ID, &p.Title, &p.ProblemStatement, &p.OwnerID, &p.UpdatedAt)
	if err != nil {
		return model.Project{}, classify("get project", err)
	}
	return p, nil
}

// ProjectRole reports how userID relates to the project. A missing project
// is ErrNotFound; a stranger gets RoleNone.
func (s *PostgresStore) ProjectRole(ctx context.Context, projectID, userID string) (Role, error) {
	var ownerID string
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT p.owner_id,
			EXISTS(SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $2)
		FROM projects p
		WHERE p.id=$1
	`, projectID, userID).Scan(&ownerID, &member)
	if err != nil {
		return RoleNone, classify("project role", err)
	}
	switch {
	case ownerID == userID:
		return RoleOwner, nil
	case member:
		return RoleMember, nil
	default:
		return RoleNone, nil
	}
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]model.Member, error) {
	return listMembers(ctx, s.db, projectID)
}

func listMembers(ctx context.Context, q queryer, projectID string) ([]model.Member, error) {
	var owner model.Member
	err := q.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.avatar
		FROM projects p
		JOIN users u ON u.id = p.owner_id
		WHERE p.id=$1
	`, projectID).Scan(&owner.ID, &owner.Name, &owner.Avatar)
	if err != nil {
		return nil, classify("load owner", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT u.id, u.name, u.avatar
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY pm.joined_at ASC, u.id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]model.Member, 0)
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Avatar); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return model.MergeMembers(&owner, members), nil
}

// AddMember adds userID to the project roster. Owners and existing members
// are rejected with ErrConflict; unknown users and projects with ErrNotFound.
func (s *PostgresStore) AddMember(ctx context.Context, projectID, userID string) (model.Member, error) {
	role, err := s.ProjectRole(ctx, projectID, userID)
	if err != nil {
		return model.Member{}, err
	}
	if role != RoleNone {
		return model.Member{}, fmt.Errorf("add member %s: %w: already %s", userID, ErrConflict, role)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
	`, projectID, userID); err != nil {
		return model.Member{}, classify("add member", err)
	}

	var m model.Member
	err = s.db.QueryRowContext(ctx, `SELECT id, name, avatar FROM users WHERE id=$1`, userID).Scan(&m.ID, &m.Name, &m.Avatar)
	if err != nil {
		return model.Member{}, classify("load member", err)
	}
	return m, nil
}

// LoadDocument reads the full project in snapshot order.
func (s *PostgresStore) LoadDocument(ctx context.Context, projectID string) (model.Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return model.Document{}, fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	project, err := getProject(ctx, tx, projectID)
	if err != nil {
		return model.Document{}, err
	}
	doc := model.Document{Project: project}

	if doc.SubProblems, err = loadSubProblems(ctx, tx, projectID); err != nil {
		return model.Document{}, err
	}
	if doc.Candidates, err = loadCandidates(ctx, tx, projectID); err != nil {
		return model.Document{}, err
	}
	if doc.Desires, err = loadDesires(ctx, tx, projectID); err != nil {
		return model.Document{}, err
	}
	if doc.SavedIdeas, err = loadSavedIdeas(ctx, tx, projectID); err != nil {
		return model.Document{}, err
	}
	if doc.Members, err = listMembers(ctx, tx, projectID); err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

func loadSubProblems(ctx context.Context, q queryer, projectID string) ([]model.SubProblem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, title, search_queries
		FROM sub_problems
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sub-problems: %w", err)
	}
	defer rows.Close()

	items := make([]model.SubProblem, 0)
	index := map[string]int{}
	for rows.Next() {
		var sp model.SubProblem
		var queries string
		if err := rows.Scan(&sp.ID, &sp.Title, &queries); err != nil {
			return nil, fmt.Errorf("scan sub-problem: %w", err)
		}
		sp.SearchQueries = []model.SearchQuery{}
		if err := decodeText(queries, &sp.SearchQueries); err != nil {
			return nil, err
		}
		sp.Choices = []model.Choice{}
		index[sp.ID] = len(items)
		items = append(items, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-problems: %w", err)
	}

	choiceRows, err := q.QueryContext(ctx, `
		SELECT c.sub_problem_id, c.id, c.text, c.description, c.is_outside_domain, c.source
		FROM choices c
		JOIN sub_problems sp ON sp.id = c.sub_problem_id
		WHERE sp.project_id=$1
		ORDER BY sp.position ASC, c.position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var parent string
		var c model.Choice
		if err := choiceRows.Scan(&parent, &c.ID, &c.Text, &c.Description, &c.IsOutsideDomain, &c.Source); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		if i, ok := index[parent]; ok {
			items[i].Choices = append(items[i].Choices, c)
		}
	}
	if err := choiceRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate choices: %w", err)
	}
	return items, nil
}

func loadCandidates(ctx context.Context, q queryer, projectID string) ([]model.Candidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, text, reactions
		FROM candidates
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	items := make([]model.Candidate, 0)
	for rows.Next() {
		var c model.Candidate
		var reactions string
		if err := rows.Scan(&c.ID, &c.Text, &reactions); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Reactions = map[string]int{}
		if err := decodeText(reactions, &c.Reactions); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return items, nil
}

func loadDesires(ctx context.Context, q queryer, projectID string) ([]model.Desire, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, text, category
		FROM desires
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list desires: %w", err)
	}
	defer rows.Close()

	items := make([]model.Desire, 0)
	for rows.Next() {
		var d model.Desire
		if err := rows.Scan(&d.ID, &d.Text, &d.Category); err != nil {
			return nil, fmt.Errorf("scan desire: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate desires: %w", err)
	}
	return items, nil
}

func loadSavedIdeas(ctx context.Context, q queryer, projectID string) ([]model.SavedIdea, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, title, combination, ratings
		FROM saved_ideas
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list saved ideas: %w", err)
	}
	defer rows.Close()

	items := make([]model.SavedIdea, 0)
	for rows.Next() {
		var idea model.SavedIdea
		var combination, ratings string
		if err := rows.Scan(&idea.ID, &idea.Title, &combination, &ratings); err != nil {
			return nil, fmt.Errorf("scan saved idea: %w", err)
		}
		idea.Combination = map[string]string{}
		idea.Ratings = map[string]int{}
		if err := decodeText(combination, &idea.Combination); err != nil {
			return nil, err
		}
		if err := decodeText(ratings, &idea.Ratings); err != nil {
			return nil, err
		}
		items = append(items, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) BeginReconcile(ctx context.Context) (reconcile.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	return &pgReconcileTx{tx: tx}, nil
}

// CreateMessage stores msg and one unread notification per recipient in a
// single transaction. Recipients outside the project roster are skipped. A
// candidate thread must name a candidate of the project, live or one that
// already has messages; anything else is ErrNotFound.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg model.Message, recipientIDs []string) (model.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("begin create message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if msg.CandidateID != nil {
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM candidates WHERE id = $1 AND project_id = $2)
			    OR EXISTS (SELECT 1 FROM messages WHERE candidate_id = $1 AND project_id = $2)
		`, *msg.CandidateID, msg.ProjectID).Scan(&exists)
		if err != nil {
			return model.Message{}, classify("check candidate thread", err)
		}
		if !exists {
			return model.Message{}, fmt.Errorf("candidate %s: %w", *msg.CandidateID, ErrNotFound)
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, project_id, candidate_id, author_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.ProjectID, msg.CandidateID, msg.AuthorID, msg.Content).Scan(&msg.CreatedAt)
	if err != nil {
		return model.Message{}, classify("insert message", err)
	}

	for _, recipient := range uniqueStrings(recipientIDs) {
		if recipient == msg.AuthorID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, recipient_id, message_id, created_at)
			SELECT $1, u.id, $3, $4
			FROM users u
			WHERE u.id = $2
			  AND (
				u.id IN (SELECT owner_id FROM projects WHERE id = $5)
				OR u.id IN (SELECT user_id FROM project_members WHERE project_id = $5)
			  )
		`, uuid.NewString(), recipient, msg.ID, msg.CreatedAt, msg.ProjectID); err != nil {
			return model.Message{}, classify("insert notification", err)
		}
	}

	err = tx.QueryRowContext(ctx, `SELECT id, name, avatar FROM users WHERE id=$1`, msg.AuthorID).
		Scan(&msg.Author.ID, &msg.Author.Name, &msg.Author.Avatar)
	if err != nil {
		return model.Message{}, classify("load author", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns one thread oldest first. A nil candidateID selects
// the project-level thread only.
func (s *PostgresStore) ListMessages(ctx context.Context, projectID string, candidateID *string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.candidate_id, m.author_id, m.content, m.created_at,
			u.id, u.name, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.project_id=$1
		  AND m.candidate_id IS NOT DISTINCT FROM $2
		ORDER BY m.created_at ASC, m.id ASC
	`, projectID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.CandidateID, &m.AuthorID, &m.Content, &m.CreatedAt,
			&m.Author.ID, &m.Author.Name, &m.Author.Avatar); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

const notificationColumns = `
	n.id, n.recipient_id, n.message_id, n.read, n.created_at,
	m.content, u.name, u.avatar, p.id, p.title, m.candidate_id, COALESCE(c.text, '')
`

const notificationJoins = `
	FROM notifications n
	JOIN messages m ON m.id = n.message_id
	JOIN users u ON u.id = m.author_id
	JOIN projects p ON p.id = m.project_id
	LEFT JOIN candidates c ON c.id = m.candidate_id
`

// ListNotifications returns the newest notifications for userID.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return listNotifications(ctx, s.db, userID, limit)
}

func listNotifications(ctx context.Context, q queryer, userID string, limit int) ([]model.Notification, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+notificationColumns+notificationJoins+`
		WHERE n.recipient_id=$1
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT $2
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		var c model.NotificationContext
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.MessageID, &n.Read, &n.CreatedAt,
			&c.Content, &c.AuthorName, &c.AuthorAvatar, &c.ProjectID, &c.ProjectTitle, &c.CandidateID, &c.CandidateText); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Context = &c
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationsRead flags ids as read. Ids owned by other users are
// ignored. It returns the number of notifications changed.
func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int, error) {
	return markRead(ctx, s.db, userID, ids)
}

func markRead(ctx context.Context, q queryer, userID string, ids []string) (int, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := q.ExecContext(ctx, `
		UPDATE notifications
		SET read=TRUE
		WHERE recipient_id=$1 AND id = ANY($2) AND read=FALSE
	`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read rows: %w", err)
	}
	return int(affected), nil
}

// FetchAndMarkRead lists the newest notifications and marks exactly those
// read in one transaction. The returned items carry their pre-read state.
func (s *PostgresStore) FetchAndMarkRead(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fetch notifications: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	items, err := listNotifications(ctx, tx, userID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, n := range items {
		if !n.Read {
			ids = append(ids, n.ID)
		}
	}
	if _, err := markRead(ctx, tx, userID, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fetch notifications: %w", err)
	}
	return items, nil
}

// ProjectRecords returns the document with every message of the project,
// oldest first, for search indexing and report export.
func (s *PostgresStore) ProjectRecords(ctx context.Context, projectID string) (model.Document, []model.Message, error) {
	doc, err := s.LoadDocument(ctx, projectID)
	if err != nil {
		return model.Document{}, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.candidate_id, m.author_id, m.content, m.created_at, u.name, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.project_id=$1
		ORDER BY m.created_at ASC, m.id ASC
	`, projectID)
	if err != nil {
		return model.Document{}, nil, fmt.Errorf("list project messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		m := model.Message{ProjectID: projectID}
		if err := rows.Scan(&m.ID, &m.CandidateID, &m.AuthorID, &m.Content, &m.CreatedAt, &m.Author.Name, &m.Author.Avatar); err != nil {
			return model.Document{}, nil, fmt.Errorf("scan project message: %w", err)
		}
		m.Author.ID = m.AuthorID
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return model.Document{}, nil, fmt.Errorf("iterate project messages: %w", err)
	}
	return doc, messages, nil
}

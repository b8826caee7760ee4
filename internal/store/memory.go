package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/reconcile"
)

// MemoryStore is an in-process implementation of the persistence surface.
// Reconciliation transactions work on private copies of the projects they
// touch and swap them in on commit, so a failed pass leaves nothing behind.
// Transactions are serialized.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state memoryState
	now   func() time.Time
}

type memoryRow[T any] struct {
	position int
	item     T
}

type memoryTable[T any] map[string]memoryRow[T]

func (t memoryTable[T]) sorted() []T {
	rows := make([]memoryRow[T], 0, len(t))
	for _, row := range t {
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].position < rows[j].position })
	out := make([]T, len(rows))
	for i, row := range rows {
		out[i] = row.item
	}
	return out
}

type memoryProject struct {
	project     model.Project
	members     []string
	subProblems memoryTable[model.SubProblem]
	candidates  memoryTable[model.Candidate]
	desires     memoryTable[model.Desire]
	savedIdeas  memoryTable[model.SavedIdea]
}

type memoryState struct {
	users         map[string]model.Member
	projects      map[string]*memoryProject
	messages      []model.Message
	notifications []model.Notification
}

func newMemoryState() memoryState {
	return memoryState{
		users:    map[string]model.Member{},
		projects: map[string]*memoryProject{},
	}
}

func cloneTable[T any](t memoryTable[T], clone func(T) T) memoryTable[T] {
	out := make(memoryTable[T], len(t))
	for id, row := range t {
		out[id] = memoryRow[T]{position: row.position, item: clone(row.item)}
	}
	return out
}

func (p *memoryProject) clone() *memoryProject {
	return &memoryProject{
		project:     p.project,
		members:     append([]string(nil), p.members...),
		subProblems: cloneTable(p.subProblems, model.SubProblem.Clone),
		candidates:  cloneTable(p.candidates, model.Candidate.Clone),
		desires:     cloneTable(p.desires, func(d model.Desire) model.Desire { return d }),
		savedIdeas:  cloneTable(p.savedIdeas, model.SavedIdea.Clone),
	}
}

type MemoryOption func(*MemoryStore)

// WithClock sets the time source used for message and notification stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{state: newMemoryState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) UpsertUser(_ context.Context, user model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.state.users[user.ID]; ok && user.Avatar == nil {
		user.Avatar = existing.Avatar
	}
	s.state.users[user.ID] = user
	return nil
}

func (s *MemoryStore) CreateProject(_ context.Context, project model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.projects[project.ID]; ok {
		return fmt.Errorf("create project %s: %w", project.ID, ErrConflict)
	}
	if _, ok := s.state.users[project.OwnerID]; !ok {
		return fmt.Errorf("create project owner %s: %w", project.OwnerID, ErrNotFound)
	}
	project.UpdatedAt = s.now()
	s.state.projects[project.ID] = &memoryProject{
		project:     project,
		subProblems: memoryTable[model.SubProblem]{},
		candidates:  memoryTable[model.Candidate]{},
		desires:     memoryTable[model.Desire]{},
		savedIdeas:  memoryTable[model.SavedIdea]{},
	}
	return nil
}

func (s *MemoryStore) project(projectID string) (*memoryProject, error) {
	p, ok := s.state.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.project(projectID)
	if err != nil {
		return model.Project{}, err
	}
	return p.project, nil
}

func (s *MemoryStore) ProjectRole(_ context.Context, projectID, userID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.project(projectID)
	if err != nil {
		return RoleNone, err
	}
	return p.role(userID), nil
}

func (p *memoryProject) role(userID string) Role {
	if p.project.OwnerID == userID {
		return RoleOwner
	}
	for _, id := range p.members {
		if id == userID {
			return RoleMember
		}
	}
	return RoleNone
}

func (s *MemoryStore) ListMembers(_ context.Context, projectID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	return s.roster(p), nil
}

func (s *MemoryStore) roster(p *memoryProject) []model.Member {
	var owner *model.Member
	if u, ok := s.state.users[p.project.OwnerID]; ok {
		owner = &u
	}
	members := make([]model.Member, 0, len(p.members))
	for _, id := range p.members {
		if u, ok := s.state.users[id]; ok {
			members = append(members, u)
		}
	}
	return model.MergeMembers(owner, members)
}

func (s *MemoryStore) AddMember(_ context.Context, projectID, userID string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.project(projectID)
	if err != nil {
		return model.Member{}, err
	}
	user, ok := s.state.users[userID]
	if !ok {
		return model.Member{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if role := p.role(userID); role != RoleNone {
		return model.Member{}, fmt.Errorf("add member %s: %w: already %s", userID, ErrConflict, role)
	}
	p.members = append(p.members, userID)
	return user, nil
}

func (s *MemoryStore) LoadDocument(_ context.Context, projectID string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.project(projectID)
	if err != nil {
		return model.Document{}, err
	}
	doc := model.Document{
		Project:     p.project,
		SubProblems: p.subProblems.sorted(),
		Candidates:  p.candidates.sorted(),
		Desires:     p.desires.sorted(),
		SavedIdeas:  p.savedIdeas.sorted(),
		Members:     s.roster(p),
	}
	snap := doc.Snapshot()
	doc.SubProblems, doc.Candidates, doc.Desires, doc.SavedIdeas = snap.SubProblems, snap.Candidates, snap.Desires, snap.SavedIdeas
	return doc, nil
}

// BeginReconcile blocks until any other reconciliation has finished.
func (s *MemoryStore) BeginReconcile(ctx context.Context) (reconcile.Tx, error) {
	s.txMu.Lock()
	if err := ctx.Err(); err != nil {
		s.txMu.Unlock()
		return nil, err
	}
	return &memoryTx{store: s, projects: map[string]*memoryProject{}}, nil
}

// memoryTx holds private copies of the projects it touched.
type memoryTx struct {
	store    *MemoryStore
	projects map[string]*memoryProject
	done     bool
}

func (t *memoryTx) finish() {
	t.done = true
	t.store.txMu.Unlock()
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.store.mu.Lock()
	for id, working := range t.projects {
		live, ok := t.store.state.projects[id]
		if !ok {
			continue
		}
		live.project.ProblemStatement = working.project.ProblemStatement
		live.project.UpdatedAt = working.project.UpdatedAt
		live.subProblems = working.subProblems
		live.candidates = working.candidates
		live.desires = working.desires
		live.savedIdeas = working.savedIdeas
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memoryTx) scope(projectID string) (*memoryProject, error) {
	if p, ok := t.projects[projectID]; ok {
		return p, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	live, err := t.store.project(projectID)
	if err != nil {
		return nil, err
	}
	working := live.clone()
	t.projects[projectID] = working
	return working, nil
}

func (t *memoryTx) SetProblemStatement(_ context.Context, projectID, statement string) error {
	p, err := t.scope(projectID)
	if err != nil {
		return err
	}
	p.project.ProblemStatement = statement
	p.project.UpdatedAt = t.store.now()
	return nil
}

// table returns the working table of projectID, or an empty one when the
// project is gone. Reconcile always checks the project first.
func table[T any](t *memoryTx, projectID string, pick func(*memoryProject) memoryTable[T]) memoryTable[T] {
	p, err := t.scope(projectID)
	if err != nil {
		return memoryTable[T]{}
	}
	return pick(p)
}

// usedElsewhere reports whether id already has a row in a project other
// than projectID. Ids are global, as they are in Postgres.
func usedElsewhere[T any](t *memoryTx, projectID, id string, pick func(*memoryProject) memoryTable[T]) bool {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for pid, p := range t.store.state.projects {
		if pid == projectID {
			continue
		}
		if working, ok := t.projects[pid]; ok {
			p = working
		}
		if _, ok := pick(p)[id]; ok {
			return true
		}
	}
	return false
}

func (t *memoryTx) Candidates(projectID string) reconcile.Ops[model.Candidate] {
	pick := func(p *memoryProject) memoryTable[model.Candidate] { return p.candidates }
	return memoryOps[model.Candidate]{
		table: table(t, projectID, pick),
		id:    func(c model.Candidate) string { return c.ID },
		clone: model.Candidate.Clone,
		claimed: func(c model.Candidate) string {
			if usedElsewhere(t, projectID, c.ID, pick) {
				return c.ID
			}
			return ""
		},
	}
}

func (t *memoryTx) Desires(projectID string) reconcile.Ops[model.Desire] {
	pick := func(p *memoryProject) memoryTable[model.Desire] { return p.desires }
	return memoryOps[model.Desire]{
		table: table(t, projectID, pick),
		id:    func(d model.Desire) string { return d.ID },
		clone: func(d model.Desire) model.Desire { return d },
		claimed: func(d model.Desire) string {
			if usedElsewhere(t, projectID, d.ID, pick) {
				return d.ID
			}
			return ""
		},
	}
}

func (t *memoryTx) SavedIdeas(projectID string) reconcile.Ops[model.SavedIdea] {
	pick := func(p *memoryProject) memoryTable[model.SavedIdea] { return p.savedIdeas }
	return memoryOps[model.SavedIdea]{
		table: table(t, projectID, pick),
		id:    func(i model.SavedIdea) string { return i.ID },
		clone: model.SavedIdea.Clone,
		claimed: func(i model.SavedIdea) string {
			if usedElsewhere(t, projectID, i.ID, pick) {
				return i.ID
			}
			return ""
		},
	}
}

func (t *memoryTx) SubProblems(projectID string) reconcile.Ops[model.SubProblem] {
	pick := func(p *memoryProject) memoryTable[model.SubProblem] { return p.subProblems }
	return memoryOps[model.SubProblem]{
		table: table(t, projectID, pick),
		id:    func(s model.SubProblem) string { return s.ID },
		clone: model.SubProblem.Clone,
		claimed: func(sp model.SubProblem) string {
			if usedElsewhere(t, projectID, sp.ID, pick) {
				return sp.ID
			}
			for _, c := range sp.Choices {
				if t.choiceUsedElsewhere(projectID, c.ID) {
					return c.ID
				}
			}
			return ""
		},
	}
}

func (t *memoryTx) choiceUsedElsewhere(projectID, choiceID string) bool {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for pid, p := range t.store.state.projects {
		if pid == projectID {
			continue
		}
		if working, ok := t.projects[pid]; ok {
			p = working
		}
		for _, row := range p.subProblems {
			for _, c := range row.item.Choices {
				if c.ID == choiceID {
					return true
				}
			}
		}
	}
	return false
}

type memoryOps[T any] struct {
	table memoryTable[T]
	id    func(T) string
	clone func(T) T
	// claimed returns an id of item that another project already owns.
	claimed func(T) string
}

func (o memoryOps[T]) ExistingIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(o.table))
	for _, item := range o.table.sorted() {
		ids = append(ids, o.id(item))
	}
	return ids, nil
}

func (o memoryOps[T]) Insert(_ context.Context, entries []reconcile.Entry[T]) error {
	for _, e := range entries {
		id := o.id(e.Item)
		if _, ok := o.table[id]; ok {
			return fmt.Errorf("insert %s: %w", id, ErrConflict)
		}
		if o.claimed != nil {
			if taken := o.claimed(e.Item); taken != "" {
				return fmt.Errorf("insert %s: %w", taken, ErrConflict)
			}
		}
		o.table[id] = memoryRow[T]{position: e.Position, item: o.clone(e.Item)}
	}
	return nil
}

func (o memoryOps[T]) Update(_ context.Context, e reconcile.Entry[T]) error {
	id := o.id(e.Item)
	if _, ok := o.table[id]; !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	o.table[id] = memoryRow[T]{position: e.Position, item: o.clone(e.Item)}
	return nil
}

func (o memoryOps[T]) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(o.table, id)
	}
	return nil
}

func (o memoryOps[T]) DeleteAll(context.Context) (int, error) {
	n := len(o.table)
	for id := range o.table {
		delete(o.table, id)
	}
	return n, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg model.Message, recipientIDs []string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(msg.ProjectID)
	if err != nil {
		return model.Message{}, err
	}
	author, ok := s.state.users[msg.AuthorID]
	if !ok {
		return model.Message{}, fmt.Errorf("author %s: %w", msg.AuthorID, ErrNotFound)
	}
	if msg.CandidateID != nil {
		id := *msg.CandidateID
		if !s.threadExists(p, msg.ProjectID, id) {
			return model.Message{}, fmt.Errorf("candidate %s: %w", id, ErrNotFound)
		}
		msg.CandidateID = &id
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.now()
	msg.Author = author

	notifications := make([]model.Notification, 0, len(recipientIDs))
	for _, recipient := range uniqueStrings(recipientIDs) {
		if recipient == msg.AuthorID || p.role(recipient) == RoleNone {
			continue
		}
		if _, ok := s.state.users[recipient]; !ok {
			continue
		}
		notifications = append(notifications, model.Notification{
			ID:          uuid.NewString(),
			RecipientID: recipient,
			MessageID:   msg.ID,
			CreatedAt:   msg.CreatedAt,
		})
	}

	s.state.messages = append(s.state.messages, msg)
	s.state.notifications = append(s.state.notifications, notifications...)
	return msg, nil
}

// threadExists reports whether candidateID is a live candidate of the
// project or already anchors one of its messages. Callers hold s.mu.
func (s *MemoryStore) threadExists(p *memoryProject, projectID, candidateID string) bool {
	if _, ok := p.candidates[candidateID]; ok {
		return true
	}
	for _, m := range s.state.messages {
		if m.ProjectID == projectID && m.CandidateID != nil && *m.CandidateID == candidateID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListMessages(_ context.Context, projectID string, candidateID *string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.Message, 0)
	for _, m := range s.state.messages {
		if m.ProjectID != projectID || !sameThread(m.CandidateID, candidateID) {
			continue
		}
		items = append(items, m)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func sameThread(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listNotifications(userID, limit), nil
}

func (s *MemoryStore) listNotifications(userID string, limit int) []model.Notification {
	messages := make(map[string]model.Message, len(s.state.messages))
	for _, m := range s.state.messages {
		messages[m.ID] = m
	}

	items := make([]model.Notification, 0)
	for _, n := range s.state.notifications {
		if n.RecipientID != userID {
			continue
		}
		if m, ok := messages[n.MessageID]; ok {
			n.Context = s.notificationContext(m)
		}
		items = append(items, n)
	}
	// Newest first; insertion order breaks ties.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit = clampLimit(limit); len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) notificationContext(m model.Message) *model.NotificationContext {
	c := &model.NotificationContext{
		Content:      m.Content,
		AuthorName:   m.Author.Name,
		AuthorAvatar: m.Author.Avatar,
		ProjectID:    m.ProjectID,
		CandidateID:  m.CandidateID,
	}
	if p, ok := s.state.projects[m.ProjectID]; ok {
		c.ProjectTitle = p.project.Title
		if m.CandidateID != nil {
			if row, ok := p.candidates[*m.CandidateID]; ok {
				c.CandidateText = row.item.Text
			}
		}
	}
	return c
}

func (s *MemoryStore) MarkNotificationsRead(_ context.Context, userID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRead(userID, ids), nil
}

func (s *MemoryStore) markRead(userID string, ids []string) int {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	changed := 0
	for i, n := range s.state.notifications {
		if _, ok := wanted[n.ID]; !ok || n.RecipientID != userID || n.Read {
			continue
		}
		s.state.notifications[i].Read = true
		changed++
	}
	return changed
}

func (s *MemoryStore) FetchAndMarkRead(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.listNotifications(userID, limit)
	ids := make([]string, 0, len(items))
	for _, n := range items {
		ids = append(ids, n.ID)
	}
	s.markRead(userID, ids)
	return items, nil
}

func (s *MemoryStore) ProjectRecords(ctx context.Context, projectID string) (model.Document, []model.Message, error) {
	doc, err := s.LoadDocument(ctx, projectID)
	if err != nil {
		return model.Document{}, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]model.Message, 0)
	for _, m := range s.state.messages {
		if m.ProjectID == projectID {
			messages = append(messages, m)
		}
	}
	return doc, messages, nil
}

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/reconcile"
)

// contractStore is the surface both stores implement.
type contractStore interface {
	reconcile.TxBeginner
	UpsertUser(ctx context.Context, user model.Member) error
	CreateProject(ctx context.Context, project model.Project) error
	LoadDocument(ctx context.Context, projectID string) (model.Document, error)
	ProjectRole(ctx context.Context, projectID, userID string) (Role, error)
	AddMember(ctx context.Context, projectID, userID string) (model.Member, error)
	CreateMessage(ctx context.Context, msg model.Message, recipientIDs []string) (model.Message, error)
	ListMessages(ctx context.Context, projectID string, candidateID *string) ([]model.Message, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int, error)
	FetchAndMarkRead(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	ProjectRecords(ctx context.Context, projectID string) (model.Document, []model.Message, error)
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) contractStore {
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		tick := 0
		return NewMemoryStore(WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		}))
	})
}

func TestPostgresStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) contractStore {
		db := openTestDB(t)
		_, err := ApplyMigrations(context.Background(), db, migrationsDir)
		require.NoError(t, err)
		return NewPostgresStore(db)
	})
}

func strPtr(s string) *string { return &s }

func seed(t *testing.T, s contractStore) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []model.Member{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob", Avatar: strPtr("https://example.test/bob.png")},
		{ID: "carol", Name: "Carol"},
		{ID: "mallory", Name: "Mallory"},
	} {
		require.NoError(t, s.UpsertUser(ctx, u))
	}
	require.NoError(t, s.CreateProject(ctx, model.Project{ID: "p1", Title: "Cheaper commute", OwnerID: "alice"}))
	_, err := s.AddMember(ctx, "p1", "bob")
	require.NoError(t, err)
	_, err = s.AddMember(ctx, "p1", "carol")
	require.NoError(t, err)
}

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		ProblemStatement: "How might commuters spend less?",
		SubProblems: []model.SubProblem{
			{
				ID: "sp-route", Title: "Route",
				Choices: []model.Choice{
					{ID: "ch-bus", Text: "Bus"},
					{ID: "ch-bike", Text: "Bike", Description: "Shared bikes", IsOutsideDomain: true, Source: "Amsterdam"},
				},
				SearchQueries: []model.SearchQuery{{Type: model.QueryGeneral, Query: "commute cost"}},
			},
			{ID: "sp-time", Title: "Time", Choices: []model.Choice{{ID: "ch-early", Text: "Leave early"}}, SearchQueries: []model.SearchQuery{}},
		},
		Candidates: []model.Candidate{
			{ID: "cand-1", Text: "Cut fuel spend", Reactions: map[string]int{"alice": 4, "bob": 2}},
			{ID: "cand-2", Text: "Share rides", Reactions: map[string]int{}},
		},
		Desires: []model.Desire{
			{ID: "d-1", Text: "Save money", Category: model.DesireSelf},
			{ID: "d-2", Text: "Less traffic", Category: model.DesireThirdParty},
		},
		SavedIdeas: []model.SavedIdea{
			{ID: "idea-1", Title: "Bike early", Combination: map[string]string{"sp-route": "ch-bike", "sp-time": "ch-early"}, Ratings: map[string]int{"d-1": 5}},
		},
	}
}

func runContract(t *testing.T, newStore func(t *testing.T) contractStore) {
	ctx := context.Background()

	t.Run("save then load round-trips the snapshot", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)

		want := sampleSnapshot()
		_, err := engine.Reconcile(ctx, "p1", want)
		require.NoError(t, err)

		doc, err := s.LoadDocument(ctx, "p1")
		require.NoError(t, err)
		if diff := cmp.Diff(want, doc.Snapshot()); diff != "" {
			t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "Cheaper commute", doc.Title)
		require.Len(t, doc.Members, 3)
		assert.Equal(t, "alice", doc.Members[0].ID)
	})

	t.Run("unchanged save keeps candidate rows", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)
		snap := sampleSnapshot()
		_, err := engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		report, err := engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)
		candidates := report.Results[0]
		assert.Equal(t, "candidates", candidates.Collection)
		assert.Equal(t, 0, candidates.Inserted)
		assert.Equal(t, 0, candidates.Deleted)
		assert.Equal(t, 2, candidates.Updated)
	})

	t.Run("reordering candidates round-trips", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)
		snap := sampleSnapshot()
		_, err := engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		snap.Candidates[0], snap.Candidates[1] = snap.Candidates[1], snap.Candidates[0]
		_, err = engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		doc, err := s.LoadDocument(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "cand-2", doc.Candidates[0].ID)
		assert.Equal(t, "cand-1", doc.Candidates[1].ID)
	})

	t.Run("removed candidate keeps its thread", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)
		snap := sampleSnapshot()
		_, err := engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		_, err = s.CreateMessage(ctx, model.Message{ProjectID: "p1", CandidateID: strPtr("cand-2"), AuthorID: "bob", Content: "too vague"}, nil)
		require.NoError(t, err)

		snap.Candidates = snap.Candidates[:1]
		_, err = engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		thread, err := s.ListMessages(ctx, "p1", strPtr("cand-2"))
		require.NoError(t, err)
		require.Len(t, thread, 1)
		assert.Equal(t, "too vague", thread[0].Content)
	})

	t.Run("saved idea keeps a dangling combination", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)
		snap := sampleSnapshot()
		_, err := engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		snap.SubProblems[0].Choices = snap.SubProblems[0].Choices[:1]
		_, err = engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		doc, err := s.LoadDocument(ctx, "p1")
		require.NoError(t, err)
		assert.Len(t, doc.SubProblems[0].Choices, 1)
		assert.Equal(t, "ch-bike", doc.SavedIdeas[0].Combination["sp-route"])
	})

	t.Run("missing project", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := s.LoadDocument(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = reconcile.NewEngine(s, nil).Reconcile(ctx, "nope", sampleSnapshot())
		assert.ErrorIs(t, err, ErrNotFound)
		var recErr *reconcile.Error
		assert.ErrorAs(t, err, &recErr)
	})

	t.Run("roles and invites", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		role, err := s.ProjectRole(ctx, "p1", "alice")
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, role)
		role, err = s.ProjectRole(ctx, "p1", "bob")
		require.NoError(t, err)
		assert.Equal(t, RoleMember, role)
		role, err = s.ProjectRole(ctx, "p1", "mallory")
		require.NoError(t, err)
		assert.Equal(t, RoleNone, role)

		_, err = s.AddMember(ctx, "p1", "alice")
		assert.ErrorIs(t, err, ErrConflict)
		_, err = s.AddMember(ctx, "p1", "bob")
		assert.ErrorIs(t, err, ErrConflict)
		_, err = s.AddMember(ctx, "p1", "ghost")
		assert.ErrorIs(t, err, ErrNotFound)

		added, err := s.AddMember(ctx, "p1", "mallory")
		require.NoError(t, err)
		assert.Equal(t, "Mallory", added.Name)
	})

	t.Run("message notifies mentioned members except the author", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := reconcile.NewEngine(s, nil).Reconcile(ctx, "p1", sampleSnapshot())
		require.NoError(t, err)

		msg, err := s.CreateMessage(ctx, model.Message{
			ProjectID: "p1", CandidateID: strPtr("cand-1"), AuthorID: "alice", Content: "@Bob thoughts?",
		}, []string{"alice", "bob", "bob", "mallory"})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "Alice", msg.Author.Name)
		assert.False(t, msg.CreatedAt.IsZero())

		bob, err := s.ListNotifications(ctx, "bob", 0)
		require.NoError(t, err)
		require.Len(t, bob, 1)
		assert.Equal(t, msg.ID, bob[0].MessageID)
		assert.False(t, bob[0].Read)
		require.NotNil(t, bob[0].Context)
		assert.Equal(t, "Cut fuel spend", bob[0].Context.CandidateText)
		assert.Equal(t, "Cheaper commute", bob[0].Context.ProjectTitle)
		assert.Equal(t, "Alice", bob[0].Context.AuthorName)

		alice, err := s.ListNotifications(ctx, "alice", 0)
		require.NoError(t, err)
		assert.Empty(t, alice)
		outsider, err := s.ListNotifications(ctx, "mallory", 0)
		require.NoError(t, err)
		assert.Empty(t, outsider)
	})

	t.Run("threads are matched exactly", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := reconcile.NewEngine(s, nil).Reconcile(ctx, "p1", sampleSnapshot())
		require.NoError(t, err)
		post := func(candidate *string, content string) {
			_, err := s.CreateMessage(ctx, model.Message{ProjectID: "p1", CandidateID: candidate, AuthorID: "bob", Content: content}, nil)
			require.NoError(t, err)
		}
		post(nil, "general 1")
		post(strPtr("cand-1"), "about one")
		post(nil, "general 2")

		general, err := s.ListMessages(ctx, "p1", nil)
		require.NoError(t, err)
		require.Len(t, general, 2)
		assert.Equal(t, "general 1", general[0].Content)
		assert.Equal(t, "general 2", general[1].Content)
		assert.Equal(t, "Bob", general[0].Author.Name)

		one, err := s.ListMessages(ctx, "p1", strPtr("cand-1"))
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "about one", one[0].Content)
	})

	t.Run("candidate threads must belong to the project", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)
		snap := sampleSnapshot()
		_, err := engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)

		require.NoError(t, s.CreateProject(ctx, model.Project{ID: "p2", Title: "Other", OwnerID: "mallory"}))
		_, err = engine.Reconcile(ctx, "p2", model.Snapshot{
			Candidates: []model.Candidate{{ID: "cand-other", Text: "Elsewhere", Reactions: map[string]int{}}},
		})
		require.NoError(t, err)

		post := func(candidate string) error {
			_, err := s.CreateMessage(ctx, model.Message{ProjectID: "p1", CandidateID: strPtr(candidate), AuthorID: "bob", Content: "on " + candidate}, nil)
			return err
		}

		require.NoError(t, post("cand-2"))

		// cand-2 is gone but its thread stays open.
		snap.Candidates = snap.Candidates[:1]
		_, err = engine.Reconcile(ctx, "p1", snap)
		require.NoError(t, err)
		require.NoError(t, post("cand-2"))

		assert.ErrorIs(t, post("cand-other"), ErrNotFound)
		assert.ErrorIs(t, post("never-existed"), ErrNotFound)

		thread, err := s.ListMessages(ctx, "p1", strPtr("cand-2"))
		require.NoError(t, err)
		assert.Len(t, thread, 2)
		other, err := s.ListMessages(ctx, "p1", strPtr("cand-other"))
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("row ids are unique across projects", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		engine := reconcile.NewEngine(s, nil)
		_, err := engine.Reconcile(ctx, "p1", sampleSnapshot())
		require.NoError(t, err)
		require.NoError(t, s.CreateProject(ctx, model.Project{ID: "p2", Title: "Other", OwnerID: "mallory"}))

		_, err = engine.Reconcile(ctx, "p2", model.Snapshot{
			Candidates: []model.Candidate{{ID: "cand-1", Text: "Borrowed", Reactions: map[string]int{}}},
		})
		assert.ErrorIs(t, err, ErrConflict)
		var recErr *reconcile.Error
		require.ErrorAs(t, err, &recErr)
		assert.Equal(t, "candidates", recErr.Collection)

		doc, err := s.LoadDocument(ctx, "p2")
		require.NoError(t, err)
		assert.Empty(t, doc.Candidates)

		p1 := sampleSnapshot()
		_, err = engine.Reconcile(ctx, "p2", model.Snapshot{SubProblems: []model.SubProblem{{
			ID: "sp-other", Title: "Parking", SearchQueries: []model.SearchQuery{},
			Choices: []model.Choice{p1.SubProblems[0].Choices[0]},
		}}})
		assert.ErrorIs(t, err, ErrConflict)

		// Saving p1 again reuses its own ids.
		_, err = engine.Reconcile(ctx, "p1", p1)
		require.NoError(t, err)
	})

	t.Run("mark read is scoped to the recipient", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := s.CreateMessage(ctx, model.Message{ProjectID: "p1", AuthorID: "alice", Content: "hi"}, []string{"bob", "carol"})
		require.NoError(t, err)

		bob, err := s.ListNotifications(ctx, "bob", 0)
		require.NoError(t, err)
		carol, err := s.ListNotifications(ctx, "carol", 0)
		require.NoError(t, err)

		changed, err := s.MarkNotificationsRead(ctx, "bob", []string{bob[0].ID, carol[0].ID})
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		carol, err = s.ListNotifications(ctx, "carol", 0)
		require.NoError(t, err)
		assert.False(t, carol[0].Read)
		bob, err = s.ListNotifications(ctx, "bob", 0)
		require.NoError(t, err)
		assert.True(t, bob[0].Read)
	})

	t.Run("notifications are capped newest first", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		for i := 0; i < 25; i++ {
			_, err := s.CreateMessage(ctx, model.Message{ProjectID: "p1", AuthorID: "alice", Content: fmt.Sprintf("m%02d", i)}, []string{"bob"})
			require.NoError(t, err)
		}
		items, err := s.ListNotifications(ctx, "bob", 100)
		require.NoError(t, err)
		require.Len(t, items, DefaultNotificationLimit)
		assert.Equal(t, "m24", items[0].Context.Content)
		assert.Equal(t, "m05", items[len(items)-1].Context.Content)
	})

	t.Run("fetch and mark read", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := s.CreateMessage(ctx, model.Message{ProjectID: "p1", AuthorID: "alice", Content: "hi"}, []string{"bob"})
		require.NoError(t, err)

		first, err := s.FetchAndMarkRead(ctx, "bob", 0)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.False(t, first[0].Read)

		second, err := s.ListNotifications(ctx, "bob", 0)
		require.NoError(t, err)
		assert.True(t, second[0].Read)
	})

	t.Run("upsert without avatar keeps the stored one", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		require.NoError(t, s.UpsertUser(ctx, model.Member{ID: "bob", Name: "Robert"}))

		doc, err := s.LoadDocument(ctx, "p1")
		require.NoError(t, err)
		var bob model.Member
		for _, m := range doc.Members {
			if m.ID == "bob" {
				bob = m
			}
		}
		assert.Equal(t, "Robert", bob.Name)
		require.NotNil(t, bob.Avatar)
		assert.Equal(t, "https://example.test/bob.png", *bob.Avatar)
	})

	t.Run("project records carry every thread with authors", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		_, err := reconcile.NewEngine(s, nil).Reconcile(ctx, "p1", sampleSnapshot())
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, model.Message{ProjectID: "p1", AuthorID: "bob", Content: "project"}, nil)
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, model.Message{ProjectID: "p1", AuthorID: "alice", CandidateID: strPtr("cand-1"), Content: "candidate"}, nil)
		require.NoError(t, err)

		doc, messages, err := s.ProjectRecords(ctx, "p1")
		require.NoError(t, err)
		assert.Len(t, doc.Candidates, 2)
		require.Len(t, messages, 2)
		assert.Equal(t, "project", messages[0].Content)
		assert.Equal(t, "Bob", messages[0].Author.Name)
		require.NotNil(t, messages[0].Author.Avatar)
		assert.Equal(t, "cand-1", *messages[1].CandidateID)

		_, _, err = s.ProjectRecords(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkbigger/api/internal/app"
	"thinkbigger/api/internal/auth"
	"thinkbigger/api/internal/autosave"
	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/store"
)

var secret = []byte("client-test-secret")

// newAPI serves the real HTTP API over an in-memory store holding project
// p1 owned by alice with bob as member.
func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, u := range []model.Member{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}, {ID: "eve", Name: "Eve"}} {
		require.NoError(t, mem.UpsertUser(ctx, u))
	}
	require.NoError(t, mem.CreateProject(ctx, model.Project{ID: "p1", Title: "Commute", OwnerID: "alice"}))
	_, err := mem.AddMember(ctx, "p1", "bob")
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(secret, "")
	require.NoError(t, err)
	svc := app.NewService(mem, verifier)
	t.Cleanup(svc.Close)
	srv := httptest.NewServer(app.NewHTTPServer(svc, "*", nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, who model.Identity) *Client {
	t.Helper()
	token, err := auth.IssueToken(secret, "", who, time.Hour)
	require.NoError(t, err)
	return New(srv.URL+"/", token, WithHTTPClient(srv.Client()))
}

func TestSaveAndLoadThroughAPI(t *testing.T) {
	srv := newAPI(t)
	c := clientFor(t, srv, model.Identity{ID: "alice", Name: "Alice"})
	ctx := context.Background()

	snap := model.Snapshot{
		ProblemStatement: "Spend less on the commute",
		SubProblems:      []model.SubProblem{{ID: "sp1", Title: "Route", Choices: []model.Choice{{ID: "c1", Text: "Bike"}}, SearchQueries: []model.SearchQuery{}}},
		Candidates:       []model.Candidate{{ID: "cand-1", Text: "Cut fuel", Reactions: map[string]int{"alice": 3}}},
		Desires:          []model.Desire{},
		SavedIdeas:       []model.SavedIdea{},
	}
	require.NoError(t, c.Save(ctx, "p1", snap))

	doc, err := c.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Commute", doc.Title)
	assert.Equal(t, snap, doc.Snapshot())

	revs, err := c.Revision(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, revs.Document)
}

func TestClientDrivesAutosave(t *testing.T) {
	srv := newAPI(t)
	c := clientFor(t, srv, model.Identity{ID: "bob", Name: "Bob"})
	ctx := context.Background()

	source := staticSource{projectID: "p1", snap: model.Snapshot{ProblemStatement: "from the scheduler"}}
	sched := autosave.New(c, source, autosave.WithQuietPeriod(time.Hour))
	sched.Touch()
	require.NoError(t, sched.Close(ctx))

	doc, err := c.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "from the scheduler", doc.ProblemStatement)
}

type staticSource struct {
	projectID string
	snap      model.Snapshot
}

func (s staticSource) ProjectID() string        { return s.projectID }
func (s staticSource) Snapshot() model.Snapshot { return s.snap }

func TestChatAndNotificationsThroughAPI(t *testing.T) {
	srv := newAPI(t)
	aliceClient := clientFor(t, srv, model.Identity{ID: "alice", Name: "Alice"})
	bobClient := clientFor(t, srv, model.Identity{ID: "bob", Name: "Bob"})
	ctx := context.Background()

	msg, err := aliceClient.PostMessage(ctx, "p1", "@Bob look", nil, []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Author.Name)

	thread, err := bobClient.ListMessages(ctx, "p1", nil)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, msg.ID, thread[0].ID)

	candidate := "cand-x"
	other, err := bobClient.ListMessages(ctx, "p1", &candidate)
	require.NoError(t, err)
	assert.Empty(t, other)

	items, err := bobClient.Notifications(ctx, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	n, err := bobClient.MarkNotificationsRead(ctx, []string{items[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err = bobClient.Notifications(ctx, false)
	require.NoError(t, err)
	assert.True(t, items[0].Read)
}

func TestInviteThroughAPI(t *testing.T) {
	srv := newAPI(t)
	c := clientFor(t, srv, model.Identity{ID: "alice", Name: "Alice"})
	ctx := context.Background()

	member, err := c.Invite(ctx, "p1", "eve")
	require.NoError(t, err)
	assert.Equal(t, "Eve", member.Name)

	_, err = c.Invite(ctx, "p1", "eve")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "CONFLICT", apiErr.Code)
	assert.False(t, IsTerminal(err))
}

func TestErrorsAreTyped(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()

	outsider := clientFor(t, srv, model.Identity{ID: "mallory", Name: "Mallory"})
	_, err := outsider.Load(ctx, "p1")
	assert.True(t, IsForbidden(err))
	assert.True(t, IsTerminal(err))

	member := clientFor(t, srv, model.Identity{ID: "alice", Name: "Alice"})
	_, err = member.Load(ctx, "missing")
	assert.True(t, IsNotFound(err))

	anonymous := New(srv.URL, "", WithHTTPClient(srv.Client()))
	_, err = anonymous.Load(ctx, "p1")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.True(t, IsTerminal(err))

	err = member.Save(ctx, "p1", model.Snapshot{Candidates: []model.Candidate{{ID: ""}}})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.False(t, IsTerminal(err))
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, "t").Save(context.Background(), "p1", model.Snapshot{})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Empty(t, apiErr.Code)
}

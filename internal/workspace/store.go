// Package workspace holds the editable, in-process copy of one project.
//
// Every mutation builds the next state from a private copy and swaps it in
// under the store mutex, so readers only ever see whole states. A change
// observer (normally the autosave scheduler) is invoked after each mutation
// that actually changed something.
package workspace

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"thinkbigger/api/internal/model"
)

type state struct {
	project     model.Project
	snapshot    model.Snapshot
	combination map[string]string
	members     []model.Member
}

func (s state) clone() state {
	out := state{
		project:     s.project,
		snapshot:    s.snapshot.Clone(),
		combination: make(map[string]string, len(s.combination)),
		members:     append([]model.Member(nil), s.members...),
	}
	for k, v := range s.combination {
		out.combination[k] = v
	}
	return out
}

type Option func(*Store)

// WithIDGenerator replaces uuid-based identifiers, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

type Store struct {
	mu       sync.Mutex
	state    state
	onChange func()
	newID    func() string
}

func New(opts ...Option) *Store {
	s := &Store{
		state: state{
			snapshot:    model.Snapshot{}.Clone(),
			combination: map[string]string{},
		},
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers the observer called after every effective mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Load replaces the whole state with a persisted document. It does not
// notify the observer: a freshly loaded document is not dirty.
func (s *Store) Load(doc model.Document) {
	next := state{
		project:     doc.Project,
		snapshot:    doc.Snapshot(),
		combination: map[string]string{},
		members:     append([]model.Member(nil), doc.Members...),
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

func (s *Store) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.project.ID
}

// Snapshot returns a deep copy of the savable state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.snapshot.Clone()
}

func (s *Store) Document() model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state.snapshot.Clone()
	project := s.state.project
	project.ProblemStatement = snap.ProblemStatement
	return model.Document{
		Project:     project,
		SubProblems: snap.SubProblems,
		Candidates:  snap.Candidates,
		Desires:     snap.Desires,
		SavedIdeas:  snap.SavedIdeas,
		Members:     append([]model.Member(nil), s.state.members...),
	}
}

func (s *Store) Members() []model.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Member(nil), s.state.members...)
}

// Combination returns a copy of the current selection map.
func (s *Store) Combination() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.state.combination))
	for k, v := range s.state.combination {
		out[k] = v
	}
	return out
}

// mutate applies fn to a private copy and publishes it when fn reports a change.
func (s *Store) mutate(fn func(st *state) bool) bool {
	s.mu.Lock()
	next := s.state.clone()
	changed := fn(&next)
	if changed {
		s.state = next
	}
	notify := s.onChange
	s.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
	return changed
}

func (s *Store) SetProblemStatement(statement string) {
	s.mutate(func(st *state) bool {
		if st.snapshot.ProblemStatement == statement {
			return false
		}
		st.snapshot.ProblemStatement = statement
		return true
	})
}

func blank(value string) bool {
	return strings.TrimSpace(value) == ""
}

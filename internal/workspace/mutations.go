package workspace

import (
	"thinkbigger/api/internal/model"
)

// ChoiceInput is a choice before it is given an identifier.
type ChoiceInput struct {
	Text            string
	Description     string
	IsOutsideDomain bool
	Source          string
}

func (s *Store) AddSubProblem(title string) string {
	id := s.newID()
	s.mutate(func(st *state) bool {
		st.snapshot.SubProblems = append(st.snapshot.SubProblems, model.SubProblem{
			ID:            id,
			Title:         title,
			Choices:       []model.Choice{},
			SearchQueries: []model.SearchQuery{},
		})
		return true
	})
	return id
}

func (s *Store) UpdateSubProblem(id, title string) {
	s.mutate(func(st *state) bool {
		sp := findSubProblem(st, id)
		if sp == nil || sp.Title == title {
			return false
		}
		sp.Title = title
		return true
	})
}

// RemoveSubProblem drops the sub-problem, its choices and its selection.
func (s *Store) RemoveSubProblem(id string) {
	s.mutate(func(st *state) bool {
		idx := indexSubProblem(st, id)
		if idx < 0 {
			return false
		}
		st.snapshot.SubProblems = append(st.snapshot.SubProblems[:idx], st.snapshot.SubProblems[idx+1:]...)
		delete(st.combination, id)
		return true
	})
}

func (s *Store) AddChoice(subProblemID string, input ChoiceInput) string {
	id := s.newID()
	changed := s.mutate(func(st *state) bool {
		sp := findSubProblem(st, subProblemID)
		if sp == nil {
			return false
		}
		sp.Choices = append(sp.Choices, model.Choice{
			ID:              id,
			Text:            input.Text,
			Description:     input.Description,
			IsOutsideDomain: input.IsOutsideDomain,
			Source:          input.Source,
		})
		return true
	})
	if !changed {
		return ""
	}
	return id
}

// RemoveChoice leaves any selection or saved idea pointing at the choice
// untouched; lookups against it simply miss.
func (s *Store) RemoveChoice(subProblemID, choiceID string) {
	s.mutate(func(st *state) bool {
		sp := findSubProblem(st, subProblemID)
		if sp == nil {
			return false
		}
		for i, c := range sp.Choices {
			if c.ID == choiceID {
				sp.Choices = append(sp.Choices[:i], sp.Choices[i+1:]...)
				return true
			}
		}
		return false
	})
}

// SelectChoice writes choiceID into the combination for subProblemID. The
// choice must currently belong to that sub-problem.
func (s *Store) SelectChoice(subProblemID, choiceID string) {
	s.mutate(func(st *state) bool {
		sp := findSubProblem(st, subProblemID)
		if sp == nil || !hasChoice(*sp, choiceID) {
			return false
		}
		if st.combination[subProblemID] == choiceID {
			return false
		}
		st.combination[subProblemID] = choiceID
		return true
	})
}

// RandomizeCombination selects one random choice for every sub-problem that
// has at least one. pick(n) must return a value in [0, n).
func (s *Store) RandomizeCombination(pick func(n int) int) {
	s.mutate(func(st *state) bool {
		changed := false
		for _, sp := range st.snapshot.SubProblems {
			if len(sp.Choices) == 0 {
				continue
			}
			choice := sp.Choices[pick(len(sp.Choices))]
			if st.combination[sp.ID] != choice.ID {
				st.combination[sp.ID] = choice.ID
				changed = true
			}
		}
		return changed
	})
}

func (s *Store) AddSearchQuery(subProblemID string, queryType model.QueryType, query string) {
	if !model.ValidQueryType(queryType) || blank(query) {
		return
	}
	s.mutate(func(st *state) bool {
		sp := findSubProblem(st, subProblemID)
		if sp == nil {
			return false
		}
		sp.SearchQueries = append(sp.SearchQueries, model.SearchQuery{Type: queryType, Query: query})
		return true
	})
}

func (s *Store) AddCandidate(text string) string {
	id := s.newID()
	s.mutate(func(st *state) bool {
		st.snapshot.Candidates = append(st.snapshot.Candidates, model.Candidate{
			ID:        id,
			Text:      text,
			Reactions: map[string]int{},
		})
		return true
	})
	return id
}

func (s *Store) RemoveCandidate(id string) {
	s.mutate(func(st *state) bool {
		for i, c := range st.snapshot.Candidates {
			if c.ID == id {
				st.snapshot.Candidates = append(st.snapshot.Candidates[:i], st.snapshot.Candidates[i+1:]...)
				return true
			}
		}
		return false
	})
}

// ToggleReaction records memberID's passion level for a candidate. Setting
// the level the member already has clears the vote.
func (s *Store) ToggleReaction(candidateID, memberID string, level int) {
	if memberID == "" || !model.ValidPassion(level) {
		return
	}
	s.mutate(func(st *state) bool {
		for i := range st.snapshot.Candidates {
			c := &st.snapshot.Candidates[i]
			if c.ID != candidateID {
				continue
			}
			if current, ok := c.Reactions[memberID]; ok && current == level {
				delete(c.Reactions, memberID)
			} else {
				c.Reactions[memberID] = level
			}
			return true
		}
		return false
	})
}

func (s *Store) AddDesire(text string, category model.DesireCategory) string {
	if !model.ValidDesireCategory(category) {
		return ""
	}
	id := s.newID()
	s.mutate(func(st *state) bool {
		st.snapshot.Desires = append(st.snapshot.Desires, model.Desire{ID: id, Text: text, Category: category})
		return true
	})
	return id
}

func (s *Store) UpdateDesire(id, text string) {
	s.mutate(func(st *state) bool {
		for i := range st.snapshot.Desires {
			if st.snapshot.Desires[i].ID == id {
				if st.snapshot.Desires[i].Text == text {
					return false
				}
				st.snapshot.Desires[i].Text = text
				return true
			}
		}
		return false
	})
}

func (s *Store) RemoveDesire(id string) {
	s.mutate(func(st *state) bool {
		for i, d := range st.snapshot.Desires {
			if d.ID == id {
				st.snapshot.Desires = append(st.snapshot.Desires[:i], st.snapshot.Desires[i+1:]...)
				return true
			}
		}
		return false
	})
}

// SaveIdea stores the current combination as a new idea. It reports false
// and changes nothing when the title is blank or the combination is not
// complete.
func (s *Store) SaveIdea(title string) (string, bool) {
	if blank(title) {
		return "", false
	}
	id := s.newID()
	saved := s.mutate(func(st *state) bool {
		if len(st.snapshot.SubProblems) == 0 || !IsComplete(st.snapshot.SubProblems, st.combination) {
			return false
		}
		combination := make(map[string]string, len(st.snapshot.SubProblems))
		for _, sp := range st.snapshot.SubProblems {
			combination[sp.ID] = st.combination[sp.ID]
		}
		st.snapshot.SavedIdeas = append(st.snapshot.SavedIdeas, model.SavedIdea{
			ID:          id,
			Title:       title,
			Combination: combination,
			Ratings:     map[string]int{},
		})
		return true
	})
	if !saved {
		return "", false
	}
	return id, true
}

// RateIdea inserts or overwrites one rating, clamped to the rating scale.
func (s *Store) RateIdea(ideaID, desireID string, value int) {
	if desireID == "" {
		return
	}
	value = model.ClampRating(value)
	s.mutate(func(st *state) bool {
		for i := range st.snapshot.SavedIdeas {
			idea := &st.snapshot.SavedIdeas[i]
			if idea.ID != ideaID {
				continue
			}
			if current, ok := idea.Ratings[desireID]; ok && current == value {
				return false
			}
			idea.Ratings[desireID] = value
			return true
		}
		return false
	})
}

func findSubProblem(st *state, id string) *model.SubProblem {
	idx := indexSubProblem(st, id)
	if idx < 0 {
		return nil
	}
	return &st.snapshot.SubProblems[idx]
}

func indexSubProblem(st *state, id string) int {
	for i := range st.snapshot.SubProblems {
		if st.snapshot.SubProblems[i].ID == id {
			return i
		}
	}
	return -1
}

func hasChoice(sp model.SubProblem, choiceID string) bool {
	for _, c := range sp.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

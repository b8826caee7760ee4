package model

// Clone returns a deep copy; nil collections come back as empty slices so the
// JSON encoding never carries null arrays.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		ProblemStatement: s.ProblemStatement,
		SubProblems:      make([]SubProblem, 0, len(s.SubProblems)),
		Candidates:       make([]Candidate, 0, len(s.Candidates)),
		Desires:          make([]Desire, 0, len(s.Desires)),
		SavedIdeas:       make([]SavedIdea, 0, len(s.SavedIdeas)),
	}
	for _, sp := range s.SubProblems {
		out.SubProblems = append(out.SubProblems, sp.Clone())
	}
	for _, c := range s.Candidates {
		out.Candidates = append(out.Candidates, c.Clone())
	}
	out.Desires = append(out.Desires, s.Desires...)
	for _, idea := range s.SavedIdeas {
		out.SavedIdeas = append(out.SavedIdeas, idea.Clone())
	}
	return out
}

func (sp SubProblem) Clone() SubProblem {
	out := sp
	out.Choices = append(make([]Choice, 0, len(sp.Choices)), sp.Choices...)
	out.SearchQueries = append(make([]SearchQuery, 0, len(sp.SearchQueries)), sp.SearchQueries...)
	return out
}

func (c Candidate) Clone() Candidate {
	out := c
	out.Reactions = cloneMap(c.Reactions)
	return out
}

func (i SavedIdea) Clone() SavedIdea {
	out := i
	out.Combination = cloneMap(i.Combination)
	out.Ratings = cloneMap(i.Ratings)
	return out
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package model

func ValidQueryType(t QueryType) bool {
	switch t {
	case QueryGeneral, QueryPartial, QueryParallel:
		return true
	default:
		return false
	}
}

func ValidDesireCategory(c DesireCategory) bool {
	switch c {
	case DesireSelf, DesireTarget, DesireThirdParty:
		return true
	default:
		return false
	}
}

func ValidPassion(level int) bool {
	return level >= MinPassion && level <= MaxPassion
}

// ClampRating forces a rating into [MinRating, MaxRating].
func ClampRating(value int) int {
	if value < MinRating {
		return MinRating
	}
	if value > MaxRating {
		return MaxRating
	}
	return value
}

// MergeMembers returns the owner followed by members, first occurrence wins.
func MergeMembers(owner *Member, members []Member) []Member {
	out := make([]Member, 0, len(members)+1)
	seen := make(map[string]struct{}, len(members)+1)
	add := func(m Member) {
		if m.ID == "" {
			return
		}
		if _, ok := seen[m.ID]; ok {
			return
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	if owner != nil {
		add(*owner)
	}
	for _, m := range members {
		add(m)
	}
	return out
}

package analysis

import "strings"

// Vocabulary holds the distinct observed classification values per category,
// trimmed, with empty values excluded, in first-seen order.
type Vocabulary struct {
	GeneralIntents   []string
	TransferReasons  []string
	DropOffLocations []string
}

// BuildVocabulary derives the vocabulary from a set of classified sessions.
func BuildVocabulary(sessions []ClassifiedSession) Vocabulary {
	intents := newValueSet()
	reasons := newValueSet()
	locations := newValueSet()
	for _, s := range sessions {
		intents.add(s.Facts.GeneralIntent)
		reasons.add(s.Facts.TransferReason)
		locations.add(s.Facts.DropOffLocation)
	}
	return Vocabulary{
		GeneralIntents:   intents.values,
		TransferReasons:  reasons.values,
		DropOffLocations: locations.values,
	}
}

// TotalDistinct returns the distinct value count across all three categories.
func (v Vocabulary) TotalDistinct() int {
	return len(v.GeneralIntents) + len(v.TransferReasons) + len(v.DropOffLocations)
}

type valueSet struct {
	seen   map[string]struct{}
	values []string
}

func newValueSet() *valueSet {
	return &valueSet{seen: make(map[string]struct{})}
}

func (s *valueSet) add(raw string) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return
	}
	if _, ok := s.seen[value]; ok {
		return
	}
	s.seen[value] = struct{}{}
	s.values = append(s.values, value)
}

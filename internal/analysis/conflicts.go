package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"insights-backend/internal/llm"
	"insights-backend/internal/shared/telemetry"
)

const (
	defaultMinUniqueLabels     = 6
	defaultSimilarityThreshold = 0.5
)

// LabelGroup is one canonicalization decision: every alias rewrites to the
// canonical form.
type LabelGroup struct {
	Canonical string   `json:"canonical"`
	Aliases   []string `json:"aliases"`
}

// ResolutionMapping is the adjudicated canonicalization across all three
// label categories.
type ResolutionMapping struct {
	GeneralIntents   []LabelGroup `json:"generalIntents"`
	TransferReasons  []LabelGroup `json:"transferReasons"`
	DropOffLocations []LabelGroup `json:"dropOffLocations"`
}

// ResolutionStats summarizes what conflict resolution did for a job.
type ResolutionStats struct {
	ConflictsFound    int `json:"conflictsFound"`
	ConflictsResolved int `json:"conflictsResolved"`
	CanonicalMappings int `json:"canonicalMappings"`
}

// ResolutionResult carries the rewritten sessions plus bookkeeping.
type ResolutionResult struct {
	Sessions []ClassifiedSession
	Stats    ResolutionStats
	Usage    llm.Usage
}

// ConflictResolver canonicalizes near-duplicate labels across a job's
// classified sessions. A cheap pairwise similarity pass decides whether the
// vocabulary is messy enough to be worth an adjudication call; the LLM then
// decides the actual merges.
type ConflictResolver struct {
	LLM   llm.Client
	Model string

	// MinUniqueLabels is the distinct-label count below which resolution is
	// skipped entirely. Zero means the default of 6.
	MinUniqueLabels int
	// SimilarityThreshold is the bigram Dice ratio at or above which a label
	// pair counts as a conflict. Zero means the default of 0.5.
	SimilarityThreshold float64
}

func (r *ConflictResolver) minUniqueLabels() int {
	if r.MinUniqueLabels > 0 {
		return r.MinUniqueLabels
	}
	return defaultMinUniqueLabels
}

func (r *ConflictResolver) similarityThreshold() float64 {
	if r.SimilarityThreshold > 0 {
		return r.SimilarityThreshold
	}
	return defaultSimilarityThreshold
}

// Resolve runs conflict resolution over the classified sessions and returns
// the sessions with canonical labels applied. The input slice is not
// modified. When the vocabulary is too small, or no pair of labels looks
// similar, the sessions come back unchanged with zero stats and no LLM call.
func (r *ConflictResolver) Resolve(ctx context.Context, sessions []ClassifiedSession) (ResolutionResult, error) {
	result := ResolutionResult{Sessions: sessions}
	vocab := BuildVocabulary(sessions)
	if vocab.TotalDistinct() < r.minUniqueLabels() {
		return result, nil
	}

	threshold := r.similarityThreshold()
	conflicts := countConflictPairs(vocab.GeneralIntents, threshold) +
		countConflictPairs(vocab.TransferReasons, threshold) +
		countConflictPairs(vocab.DropOffLocations, threshold)
	if conflicts == 0 {
		return result, nil
	}
	result.Stats.ConflictsFound = conflicts

	raw, usage, err := r.LLM.CanonicalizeLabels(ctx, llm.CanonicalizeInput{
		Model:            r.Model,
		GeneralIntents:   vocab.GeneralIntents,
		TransferReasons:  vocab.TransferReasons,
		DropOffLocations: vocab.DropOffLocations,
	})
	result.Usage = usage
	if err != nil {
		return result, fmt.Errorf("canonicalize labels: %w", err)
	}

	mapping, err := parseResolutionMapping(raw)
	if err != nil {
		return result, err
	}

	intentLookup := newCanonicalLookup(mapping.GeneralIntents)
	reasonLookup := newCanonicalLookup(mapping.TransferReasons)
	locationLookup := newCanonicalLookup(mapping.DropOffLocations)

	rewritten := make([]ClassifiedSession, len(sessions))
	for i, s := range sessions {
		facts := s.Facts
		facts.GeneralIntent = rewriteLabel(facts.GeneralIntent, intentLookup)
		facts.TransferReason = rewriteLabel(facts.TransferReason, reasonLookup)
		facts.DropOffLocation = rewriteLabel(facts.DropOffLocation, locationLookup)
		s.Facts = facts
		rewritten[i] = s
	}

	result.Sessions = rewritten
	result.Stats.ConflictsResolved = countResolvedGroups(mapping)
	result.Stats.CanonicalMappings = countAliasMappings(mapping)
	telemetry.Info("conflict resolution applied", map[string]any{
		"requestId":         requestIDFromContext(ctx),
		"conflictsFound":    result.Stats.ConflictsFound,
		"conflictsResolved": result.Stats.ConflictsResolved,
		"canonicalMappings": result.Stats.CanonicalMappings,
	})
	return result, nil
}

// rewriteLabel maps a label to its canonical form. Empty labels and labels
// the mapping does not mention pass through untouched.
func rewriteLabel(label string, lookup map[string]string) string {
	if label == "" {
		return label
	}
	if canonical, ok := lookup[label]; ok {
		return canonical
	}
	return label
}

// newCanonicalLookup flattens label groups into an alias -> canonical map.
// Canonical self-entries are written last so that applying the lookup twice
// yields the same result even if a canonical form also appears as some other
// group's alias.
func newCanonicalLookup(groups []LabelGroup) map[string]string {
	lookup := make(map[string]string)
	for _, g := range groups {
		for _, alias := range g.Aliases {
			if alias != "" {
				lookup[alias] = g.Canonical
			}
		}
	}
	for _, g := range groups {
		if g.Canonical != "" {
			lookup[g.Canonical] = g.Canonical
		}
	}
	return lookup
}

// countResolvedGroups counts adjudication groups that actually merged
// something, i.e. carry at least one alias.
func countResolvedGroups(mapping ResolutionMapping) int {
	count := 0
	for _, groups := range [][]LabelGroup{mapping.GeneralIntents, mapping.TransferReasons, mapping.DropOffLocations} {
		for _, g := range groups {
			if len(g.Aliases) > 0 {
				count++
			}
		}
	}
	return count
}

func countAliasMappings(mapping ResolutionMapping) int {
	count := 0
	for _, groups := range [][]LabelGroup{mapping.GeneralIntents, mapping.TransferReasons, mapping.DropOffLocations} {
		for _, g := range groups {
			count += len(g.Aliases)
		}
	}
	return count
}

// parseResolutionMapping decodes and validates the adjudication response.
// Every category must be present as an array and every group must carry a
// string canonical plus an aliases array; anything else rejects the whole
// response so a malformed adjudication never partially rewrites labels.
func parseResolutionMapping(raw json.RawMessage) (ResolutionMapping, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ResolutionMapping{}, fmt.Errorf("resolution response is not a JSON object: %w", ErrValidation)
	}

	var mapping ResolutionMapping
	var err error
	if mapping.GeneralIntents, err = parseGroupList(envelope, "generalIntents"); err != nil {
		return ResolutionMapping{}, err
	}
	if mapping.TransferReasons, err = parseGroupList(envelope, "transferReasons"); err != nil {
		return ResolutionMapping{}, err
	}
	if mapping.DropOffLocations, err = parseGroupList(envelope, "dropOffLocations"); err != nil {
		return ResolutionMapping{}, err
	}
	return mapping, nil
}

func parseGroupList(envelope map[string]json.RawMessage, field string) ([]LabelGroup, error) {
	raw, ok := envelope[field]
	if !ok {
		return nil, fmt.Errorf("resolution response missing %q: %w", field, ErrValidation)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("resolution response field %q is not an array: %w", field, ErrValidation)
	}
	groups := make([]LabelGroup, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, fmt.Errorf("resolution group %s[%d] is not an object: %w", field, i, ErrValidation)
		}
		rawCanonical, ok := fields["canonical"]
		if !ok {
			return nil, fmt.Errorf("resolution group %s[%d] missing canonical: %w", field, i, ErrValidation)
		}
		var group LabelGroup
		if err := json.Unmarshal(rawCanonical, &group.Canonical); err != nil {
			return nil, fmt.Errorf("resolution group %s[%d] canonical is not a string: %w", field, i, ErrValidation)
		}
		rawAliases, ok := fields["aliases"]
		if !ok {
			return nil, fmt.Errorf("resolution group %s[%d] missing aliases: %w", field, i, ErrValidation)
		}
		if err := json.Unmarshal(rawAliases, &group.Aliases); err != nil {
			return nil, fmt.Errorf("resolution group %s[%d] aliases is not a string array: %w", field, i, ErrValidation)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"math"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// DefaultMatchFloor is the minimum similarity for a fuzzy candidate.
const DefaultMatchFloor = 0.5

// Candidate is an entity the matcher can pick.
type Candidate struct {
	ID      string
	Name    string
	Summary string
}

// EntityMatcher scores candidates against a free-text phrase.
type EntityMatcher interface {
	// Match returns candidates scoring at or above the floor, sorted by
	// score descending then display name ascending. An exact name match
	// returns only the exact matches.
	Match(phrase string, candidates []Candidate) []datatypes.MatchCandidate
}

// FuzzyMatcher implements EntityMatcher with tiered scoring.
//
// # Description
//
// Tiers, best score wins per candidate:
//   - exact (case and space insensitive): 1.0
//   - every phrase token equals or prefixes (3+ chars) a name token:
//     0.6 + 0.35 * phraseTokens/nameTokens
//   - some phrase tokens found: 0.5 * found/phraseTokens
//   - ordered subsequence (sahilm/fuzzy): 0.35 + 0.3 * len(phrase)/len(name)
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type FuzzyMatcher struct {
	Floor float64
}

// NewFuzzyMatcher creates a matcher. A non-positive floor uses
// DefaultMatchFloor.
func NewFuzzyMatcher(floor float64) *FuzzyMatcher {
	if floor <= 0 {
		floor = DefaultMatchFloor
	}
	return &FuzzyMatcher{Floor: floor}
}

// Match implements EntityMatcher.
func (m *FuzzyMatcher) Match(phrase string, candidates []Candidate) []datatypes.MatchCandidate {
	norm := strings.Join(tokens(phrase), " ")
	if norm == "" || len(candidates) == 0 {
		return nil
	}

	var exact []datatypes.MatchCandidate
	for _, c := range candidates {
		if strings.Join(tokens(c.Name), " ") == norm {
			exact = append(exact, toMatch(c, 1.0))
		}
	}
	if len(exact) > 0 {
		sortMatches(exact)
		return exact
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = tokenScore(norm, c.Name)
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = strings.ToLower(c.Name)
	}
	for _, fm := range fuzzy.Find(norm, names) {
		ratio := float64(len(norm)) / float64(max(len(names[fm.Index]), 1))
		scores[fm.Index] = math.Max(scores[fm.Index], 0.35+0.3*math.Min(ratio, 1))
	}

	var out []datatypes.MatchCandidate
	for i, c := range candidates {
		if scores[i] >= m.Floor {
			out = append(out, toMatch(c, math.Round(scores[i]*1000)/1000))
		}
	}
	sortMatches(out)
	return out
}

func tokenScore(phrase, name string) float64 {
	pt, nt := tokens(phrase), tokens(name)
	if len(pt) == 0 || len(nt) == 0 {
		return 0
	}

	found := 0
	for _, p := range pt {
		for _, n := range nt {
			if p == n || (len(p) >= 3 && strings.HasPrefix(n, p)) {
				found++
				break
			}
		}
	}
	switch {
	case found == len(pt):
		return math.Min(0.6+0.35*float64(len(pt))/float64(len(nt)), 0.95)
	case found > 0:
		return 0.5 * float64(found) / float64(len(pt))
	}
	return 0
}

func toMatch(c Candidate, score float64) datatypes.MatchCandidate {
	return datatypes.MatchCandidate{ID: c.ID, DisplayName: c.Name, Summary: c.Summary, Score: score}
}

func sortMatches(ms []datatypes.MatchCandidate) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].DisplayName < ms[j].DisplayName
	})
}

var _ EntityMatcher = (*FuzzyMatcher)(nil)

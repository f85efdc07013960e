package analysis

import "strings"

// similarityRatio returns the Sorensen-Dice coefficient over character
// bigrams of the lowercased inputs, in [0, 1]. Cheap enough to run over every
// label pair; used only to shortlist canonicalization candidates.
func similarityRatio(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	counts := make(map[string]int, len(bigramsA))
	for _, g := range bigramsA {
		counts[g]++
	}
	overlap := 0
	for _, g := range bigramsB {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}
	return 2.0 * float64(overlap) / float64(len(bigramsA)+len(bigramsB))
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

// countConflictPairs counts value pairs within one category whose similarity
// meets the threshold.
func countConflictPairs(values []string, threshold float64) int {
	count := 0
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			if similarityRatio(values[i], values[j]) >= threshold {
				count++
			}
		}
	}
	return count
}

package service

import (
	"strings"
	"unicode"
)

// NormalizeText lowercases text, strips punctuation and collapses whitespace.
// Two values with the same normalized form are treated as duplicates.
func NormalizeText(text string) string {
	text = strings.ToLower(text)

	var builder strings.Builder
	prevSpace := true
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			builder.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			builder.WriteRune(' ')
			prevSpace = true
		}
	}

	return strings.TrimSpace(builder.String())
}

// listItemKey is the dedupe key for list items: case-folded with whitespace
// collapsed. Punctuation is significant, so "C++ SDK" and "C# SDK" stay apart.
func listItemKey(item string) string {
	return strings.ToLower(strings.Join(strings.Fields(item), " "))
}

// JaccardSimilarity calculates |A ∩ B| / |A ∪ B| over the distinct items of a and b.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	setA := toSet(a)
	setB := toSet(b)

	intersection := 0
	for item := range setA {
		if setB[item] {
			intersection++
		}
	}

	union := len(setA)
	for item := range setB {
		if !setA[item] {
			union++
		}
	}

	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// ValuesAgree reports whether two scalar values name the same thing: either
// their normalized forms are equal or their word sets overlap by at least threshold.
func ValuesAgree(a, b string, threshold float64) bool {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return JaccardSimilarity(strings.Fields(na), strings.Fields(nb)) >= threshold
}

func toSet(items []string) map[string]bool {
	result := make(map[string]bool, len(items))
	for _, item := range items {
		result[item] = true
	}
	return result
}

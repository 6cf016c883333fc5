//go:build go1.18

package service_test

import (
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

func FuzzJaccardSimilarity(f *testing.F) {
	f.Add("hello world", "hello there")
	f.Add("", "")
	f.Add("identical text", "identical text")
	f.Add("one two three", "four five six")

	f.Fuzz(func(t *testing.T, a, b string) {
		wordsA := strings.Fields(service.NormalizeText(a))
		wordsB := strings.Fields(service.NormalizeText(b))

		score := service.JaccardSimilarity(wordsA, wordsB)
		if score < 0 || score > 1 {
			t.Errorf("score out of range: %f", score)
		}
		if reverse := service.JaccardSimilarity(wordsB, wordsA); score != reverse {
			t.Errorf("not symmetric: %f != %f", score, reverse)
		}
		if len(wordsA) > 0 && service.JaccardSimilarity(wordsA, wordsA) != 1.0 {
			t.Error("self similarity should be 1.0")
		}
	})
}

func FuzzNormalizeText_Idempotent(f *testing.F) {
	f.Add("Hello, World!")
	f.Add("  a--b  ")
	f.Fuzz(func(t *testing.T, s string) {
		once := service.NormalizeText(s)
		if twice := service.NormalizeText(once); once != twice {
			t.Errorf("NormalizeText not idempotent: %q -> %q", once, twice)
		}
	})
}

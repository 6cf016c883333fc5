package service

import "testing"

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"apple", "banana"}, []string{"banana", "apple"}, 1.0},
		{"disjoint", []string{"apple"}, []string{"cherry"}, 0.0},
		// {banana, cherry} over {apple, banana, cherry, date}
		{"overlap", []string{"apple", "banana", "cherry"}, []string{"banana", "cherry", "date"}, 0.5},
		{"both empty", nil, nil, 1.0},
		{"one empty", []string{"a"}, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JaccardSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("JaccardSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello, World!", "hello world"},
		{"  Multiple   Spaces  ", "multiple spaces"},
		{"UPPERCASE", "uppercase"},
		{"with-dashes_and_underscores", "with dashes and underscores"},
		{"numbers123here", "numbers123here"},
		{"", ""},
		{"   ", ""},
		{"punctuation!!!", "punctuation"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValuesAgree(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Software", "software.", true},
		{"San Francisco, CA", "San Francisco", true},
		{"Fintech", "Healthcare", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := ValuesAgree(tt.a, tt.b, 0.5); got != tt.want {
			t.Errorf("ValuesAgree(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

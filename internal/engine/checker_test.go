package engine

import "testing"

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"42", "42"},
		{"  Paris ", "paris"},
		{"New\tYork", "newyork"},
		{"ＡＢＣ", "abc"}, // fullwidth folds under NFKC
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAnswer(tt.in); got != tt.want {
			t.Errorf("NormalizeAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheckAnswer(t *testing.T) {
	item := Item{ID: "A03", Correct: "42", Alternatives: []string{"forty two", "forty-two"}}
	tests := []struct {
		input string
		want  bool
	}{
		{"42", true},
		{" 42 ", true},
		{"Forty Two", true},
		{"FORTY-TWO", true},
		{"43", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := CheckAnswer(item, tt.input); got != tt.want {
			t.Errorf("CheckAnswer(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if CheckAnswer(Item{ID: "X"}, "") {
		t.Error("item without answers must not accept blank input")
	}
}

package util

import "testing"

func TestPlainTextStripsMarkup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain words only", "plain words only"},
		{"<p>one <b>two</b></p>", "one two"},
	}
	for _, tc := range cases {
		if got := PlainText(tc.in); got != tc.want {
			t.Fatalf("PlainText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCountWords(t *testing.T) {
	if got := CountWords("  one\ntwo\tthree  "); got != 3 {
		t.Fatalf("expected 3 words, got %d", got)
	}
	if got := CountWords("<h1>Chapter One</h1><p>It began at sea.</p>"); got != 6 {
		t.Fatalf("expected 6 words, got %d", got)
	}
	if got := CountWords(""); got != 0 {
		t.Fatalf("expected 0 words, got %d", got)
	}
}

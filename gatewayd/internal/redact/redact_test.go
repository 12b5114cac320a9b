package redact

import "testing"

func TestApply_RedactsKnownPatterns(t *testing.T) {
	r := New(DefaultPatterns)

	cases := []struct {
		name  string
		input string
	}{
		{"api_key", "key is sk-abcdefghijklmnopqrstuvwx and more"},
		{"bearer", "Authorization header sent Bearer abcdef1234567890"},
		{"auth_header", "Authorization: Bearer xyz"},
		{"github_token", "token ghp_" + repeat("a", 36) + " leaked"},
		{"aws_key", "AKIA" + repeat("B", 16)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := r.Apply(tc.input)
			if out == tc.input {
				t.Fatalf("expected redaction, input unchanged: %q", tc.input)
			}
			if containsCRLF(out) {
				t.Fatalf("redaction introduced CR/LF: %q", out)
			}
		})
	}
}

func TestApply_Idempotent(t *testing.T) {
	r := New(DefaultPatterns)
	input := "leaked sk-abcdefghijklmnopqrstuvwx and Authorization: Bearer xyz"

	once := r.Apply(input)
	twice := r.Apply(once)

	if once != twice {
		t.Fatalf("redaction not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestApply_PassesThroughCleanText(t *testing.T) {
	r := New(DefaultPatterns)
	input := "npm test\nall green\n"
	if out := r.Apply(input); out != input {
		t.Fatalf("expected passthrough, got %q", out)
	}
}

func TestApply_NilRedactorIsNoop(t *testing.T) {
	var r *Redactor
	if out := r.Apply("hello"); out != "hello" {
		t.Fatalf("expected passthrough on nil redactor, got %q", out)
	}
}

func TestNew_SkipsInvalidPattern(t *testing.T) {
	r := New([]string{"(unterminated", "sk-[A-Za-z0-9]{20,}"})
	out := r.Apply("sk-abcdefghijklmnopqrstuvwx")
	if out == "sk-abcdefghijklmnopqrstuvwx" {
		t.Fatalf("expected the valid pattern to still redact")
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func containsCRLF(s string) bool {
	for _, c := range s {
		if c == '\r' || c == '\n' {
			return true
		}
	}
	return false
}

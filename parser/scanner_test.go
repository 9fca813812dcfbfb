package parser

import "testing"

func TestCandidates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "simple", input: `prefix {"key": "value"} suffix`, want: []string{`{"key": "value"}`}},
		{name: "nested", input: `start {"a": {"b": "c"}} end`, want: []string{`{"a": {"b": "c"}}`}},
		{name: "multiple", input: `obj1 {"id": 1} obj2 {"id": 2}`, want: []string{`{"id": 1}`, `{"id": 2}`}},
		{name: "string_with_braces", input: `{"key": "value with } inside"}`, want: []string{`{"key": "value with } inside"}`}},
		{name: "escaped_quote", input: `{"key": "value with \" inside"}`, want: []string{`{"key": "value with \" inside"}`}},
		{name: "prose_quote_before_object", input: `He said "done {" then {"a": 1}`, want: []string{`{"a": 1}`}},
		{name: "incomplete", input: `prefix { incomplete`, want: nil},
		{name: "malformed_braces", input: `} { valid } {`, want: []string{`{ valid }`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := candidates(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candidates %q, want %d", len(got), got, len(tt.want))
			}
			for i, cand := range got {
				if cand != tt.want[i] {
					t.Errorf("candidate[%d] = %q, want %q", i, cand, tt.want[i])
				}
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	in := "{\"message\": \"line one\nline two\ttab\x01\",\n \"x\": 1}"
	want := `{"message": "line one\nline two\ttab",  "x": 1}`
	if got := normalize(in); got != want {
		t.Fatalf("normalize() = %q, want %q", got, want)
	}
}

func TestStripControl(t *testing.T) {
	if got := stripControl("a\x00b\nc\x1bd"); got != "ab\ncd" {
		t.Fatalf("stripControl() = %q", got)
	}
}

func TestWidest(t *testing.T) {
	if got := widest(`x {"a": {"b": 1}} y } z`); got != `{"a": {"b": 1}} y }` {
		t.Fatalf("widest() = %q", got)
	}
	if widest("no braces") != "" {
		t.Fatal("expected empty span")
	}
}

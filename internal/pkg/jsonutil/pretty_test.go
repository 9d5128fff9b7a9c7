package jsonutil

import "testing"

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "here:\n```json\n{\"a\":1}\n```\nbye", `{"a":1}`},
		{"plain fence", "```\n{\"b\":2}\n```", `{"b":2}`},
		{"bare braces", "thinking... {\"c\":3} done", `{"c":3}`},
		{"no json", "hold", "hold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractObject(tc.in); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestPretty(t *testing.T) {
	if got := Pretty(`{"a":1}`); got != "{\n  \"a\": 1\n}" {
		t.Fatalf("pretty: %q", got)
	}
	if got := Pretty("not json"); got != "not json" {
		t.Fatalf("invalid input should pass through: %q", got)
	}
}

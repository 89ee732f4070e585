package agent

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"prose around", `here you go: {"a": 1} done`, `{"a": 1}`},
		{"nested with brace in string", `prefix {"a": {"b": "}"}, "c": 1} suffix`, `{"a": {"b": "}"}, "c": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no object", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `[1, 2]`, `[1, 2]`},
		{"objects inside", `suggestions: [{"name": "x"}, {"name": "y"}]`, `[{"name": "x"}, {"name": "y"}]`},
		{"bracket in string", `[{"a": "]"}]`, `[{"a": "]"}]`},
		{"fenced empty", "```json\n[]\n```", `[]`},
		{"none", "no array", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSONArray(tt.in); got != tt.want {
				t.Fatalf("ExtractJSONArray(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

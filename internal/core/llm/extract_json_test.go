package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pure_object",
			input: `{"key":"value"}`,
			want:  `{"key":"value"}`,
		},
		{
			name:  "object_with_preamble",
			input: `Here: {"key":"value"} done.`,
			want:  `{"key":"value"}`,
		},
		{
			name:  "markdown_wrapped_object",
			input: "```json\n{\"text\":\"claim\"}\n```",
			want:  `{"text":"claim"}`,
		},
		{
			name:  "plain_fence",
			input: "```\n{\"is_duplicate\":true}\n```",
			want:  `{"is_duplicate":true}`,
		},
		{
			name:  "no_json",
			input: "just some text",
			want:  "just some text",
		},
		{
			name:  "empty_object",
			input: `Result: {}`,
			want:  `{}`,
		},
		{
			name:  "nested_object",
			input: `{"a":{"b":1}}`,
			want:  `{"a":{"b":1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSON(tt.input)
			if got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

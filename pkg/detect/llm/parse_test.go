package llm

import "testing"

func TestParseText(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		allowRepair  bool
		wantOK       bool
		wantRepaired bool
		wantCount    int
	}{
		{
			name:      "plain object",
			input:     `{"findings":[{"category":"X","severity":0.5}]}`,
			wantOK:    true,
			wantCount: 1,
		},
		{
			name:      "fenced with prose",
			input:     "Here you go:\n```json\n{\"findings\":[]}\n```\nThanks",
			wantOK:    true,
			wantCount: 0,
		},
		{
			name:      "object inside prose",
			input:     `Result: {"findings":[{"category":"X"}]} done`,
			wantOK:    true,
			wantCount: 1,
		},
		{
			name:   "findings not an array",
			input:  `{"findings":{"category":"X"}}`,
			wantOK: false,
		},
		{
			name:   "top level array",
			input:  `[{"category":"X"}]`,
			wantOK: false,
		},
		{
			name:   "broken json without repair",
			input:  `{"findings":[{"category":"X",}]`,
			wantOK: false,
		},
		{
			name:         "broken json with repair",
			input:        `{"findings":[{"category":"X",}]`,
			allowRepair:  true,
			wantOK:       true,
			wantRepaired: true,
			wantCount:    1,
		},
		{
			name:        "blank",
			input:       "  ",
			allowRepair: true,
			wantOK:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, repaired, ok := parseText(tt.input, tt.allowRepair)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if repaired != tt.wantRepaired {
				t.Errorf("repaired = %v, want %v", repaired, tt.wantRepaired)
			}
			if len(findings) != tt.wantCount {
				t.Errorf("findings = %d, want %d", len(findings), tt.wantCount)
			}
		})
	}
}

func TestNormalizeProvider(t *testing.T) {
	tests := map[string]string{
		" OpenAI ": "openai",
		"":         UnknownProvider,
		"   ":      UnknownProvider,
		"Gemini":   "gemini",
	}
	for in, want := range tests {
		if got := NormalizeProvider(in); got != want {
			t.Errorf("NormalizeProvider(%q) = %q, want %q", in, got, want)
		}
	}
}

package policy

import "testing"

func TestSnapshot_RulesOfType(t *testing.T) {
	snap := &Snapshot{Rules: []Rule{
		{ID: 1, Type: RuleTypeRegex, Enabled: true},
		{ID: 2, Type: RuleType("llm"), Enabled: true},
		{ID: 3, Type: RuleType(" Llm "), Enabled: true},
		{ID: 4, Type: RuleTypeLLM, Enabled: false},
		{ID: 5, Type: RuleType("unknown"), Enabled: true},
	}}

	tests := []struct {
		name string
		typ  RuleType
		want []int64
	}{
		{name: "type is matched case insensitively", typ: RuleTypeLLM, want: []int64{2, 3}},
		{name: "regex", typ: RuleTypeRegex, want: []int64{1}},
		{name: "no heuristic rules", typ: RuleTypeL2Heuristic, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snap.RulesOfType(tt.typ)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d rules, want %v", len(got), tt.want)
			}
			for i, r := range got {
				if r.ID != tt.want[i] {
					t.Errorf("rule %d = %d, want %d", i, r.ID, tt.want[i])
				}
			}
		})
	}

	var nilSnap *Snapshot
	if nilSnap.RulesOfType(RuleTypeLLM) != nil {
		t.Error("expected nil for a nil snapshot")
	}
}

package audit

import "testing"

func TestFilter_EffectiveLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{-4, DefaultLimit},
		{25, 25},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		if got := (Filter{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestFilter_Matches(t *testing.T) {
	t.Parallel()

	decision := Record{Event: EventDecision, Request: []string{"alice", "data1", "read"}, Decision: DecisionDeny}
	change := Record{Event: EventPolicyAdd, PType: "p", Rule: []string{"alice", "data1", "read"}}

	tests := []struct {
		name   string
		filter Filter
		rec    Record
		want   bool
	}{
		{"empty filter", Filter{}, change, true},
		{"event match", Filter{Event: EventDecision}, decision, true},
		{"event mismatch", Filter{Event: EventDecision}, change, false},
		{"decision match", Filter{Decision: DecisionDeny}, decision, true},
		{"decision mismatch", Filter{Decision: DecisionAllow}, decision, false},
		{"subject match", Filter{Subject: "alice"}, decision, true},
		{"subject mismatch", Filter{Subject: "bob"}, decision, false},
		{"subject needs a request", Filter{Subject: "alice"}, change, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.filter.Matches(tt.rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	t.Parallel()

	rec := Record{Request: []string{"a"}, Explain: []string{"b"}, Rule: []string{"c"}}
	c := rec.Clone()
	c.Request[0], c.Explain[0], c.Rule[0] = "x", "y", "z"
	if rec.Request[0] != "a" || rec.Explain[0] != "b" || rec.Rule[0] != "c" {
		t.Errorf("Clone() shares slices: %+v", rec)
	}
	if DecisionFor(true) != DecisionAllow || DecisionFor(false) != DecisionDeny {
		t.Error("DecisionFor mapping is wrong")
	}
}

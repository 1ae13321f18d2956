package fieldsync

import (
	"encoding/json"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	allowed := []struct{ from, to MutationState }{
		{StateCreated, StateOptimisticApplied},
		{StateCreated, StateEnqueued},
		{StateOptimisticApplied, StateEnqueued},
		{StateEnqueued, StateDispatching},
		{StateDispatching, StateCommitted},
		{StateDispatching, StateRetryPending},
		{StateDispatching, StateFailed},
		{StateDispatching, StateEnqueued},
		{StateRetryPending, StateDispatching},
		{StateFailed, StateRolledBack},
	}
	for _, tc := range allowed {
		if !transitionAllowed(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to MutationState }{
		{StateCommitted, StateDispatching},
		{StateRolledBack, StateEnqueued},
		{StateCommitted, StateRolledBack},
		{StateEnqueued, StateCommitted},
		{StateCreated, StateDispatching},
	}
	for _, tc := range forbidden {
		if transitionAllowed(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be forbidden", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for state, terminal := range map[MutationState]bool{
		StateCreated:     false,
		StateEnqueued:    false,
		StateDispatching: false,
		StateCommitted:   true,
		StateRolledBack:  true,
	} {
		if state.Terminal() != terminal {
			t.Errorf("%s: expected Terminal()=%v", state, terminal)
		}
	}
}

func TestMutationStateJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StateRetryPending)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"retry-pending"` {
		t.Errorf("expected name encoding, got %s", data)
	}

	var state MutationState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if state != StateRetryPending {
		t.Errorf("expected retry-pending, got %s", state)
	}

	if err := json.Unmarshal([]byte(`"levitating"`), &state); err == nil {
		t.Error("expected error for unknown state name")
	}
}

func TestTargetKeySeparatesCreatesFromUpdates(t *testing.T) {
	update := &MutationRequest{ID: "mut-1", ResourceType: "tools", Operation: OpUpdate, TargetID: "t1"}
	other := &MutationRequest{ID: "mut-2", ResourceType: "tools", Operation: OpUpdate, TargetID: "t1"}
	if update.targetKey() != other.targetKey() {
		t.Error("mutations on the same target must share a lane")
	}

	create1 := &MutationRequest{ID: "mut-3", ResourceType: "tools", Operation: OpCreate}
	create2 := &MutationRequest{ID: "mut-4", ResourceType: "tools", Operation: OpCreate}
	if create1.targetKey() == create2.targetKey() {
		t.Error("unrelated creates must not share a lane")
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	original := Record{
		"id":    "t1",
		"tags":  []any{"a", "b"},
		"inner": map[string]any{"n": 1},
	}
	clone := original.Clone()
	clone["tags"].([]any)[0] = "mutated"
	clone["inner"].(map[string]any)["n"] = 99

	if original["tags"].([]any)[0] != "a" {
		t.Error("slice mutation leaked into original")
	}
	if original["inner"].(map[string]any)["n"] != 1 {
		t.Error("map mutation leaked into original")
	}
}

func TestNewMutationIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newMutationID()
		if id == "" {
			t.Fatal("expected non-empty mutation ID")
		}
		if seen[id] {
			t.Fatalf("duplicate mutation ID %s", id)
		}
		seen[id] = true
	}
}

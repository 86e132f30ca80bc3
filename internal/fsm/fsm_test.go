package fsm

import (
	"errors"
	"testing"
)

func componentTable() map[Transition]string {
	return map[Transition]string{
		{"READY", "START"}:   "ACTIVE",
		{"ACTIVE", "PAUSE"}:  "PAUSED",
		{"PAUSED", "RESUME"}: "ACTIVE",
		{"ACTIVE", "STOP"}:   "STOPPED",
		{"PAUSED", "STOP"}:   "STOPPED",
	}
}

func TestMachine_ValidTransitions(t *testing.T) {
	m := New(componentTable(), "READY")

	steps := []struct {
		trigger string
		want    string
	}{
		{"START", "ACTIVE"},
		{"PAUSE", "PAUSED"},
		{"RESUME", "ACTIVE"},
		{"STOP", "STOPPED"},
	}
	for _, step := range steps {
		got, err := m.Trigger(step.trigger)
		if err != nil {
			t.Fatalf("Trigger(%q) error: %v", step.trigger, err)
		}
		if got != step.want {
			t.Errorf("Trigger(%q) = %q, want %q", step.trigger, got, step.want)
		}
	}
}

func TestMachine_InvalidTransition(t *testing.T) {
	m := New(componentTable(), "READY")

	_, err := m.Trigger("STOP")
	if err == nil {
		t.Fatal("expected error for invalid transition")
	}

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if invalid.State != "READY" || invalid.Trigger != "STOP" {
		t.Errorf("error identifies (%q, %q), want (READY, STOP)", invalid.State, invalid.Trigger)
	}
	if m.State() != "READY" {
		t.Errorf("state changed on invalid trigger: %q", m.State())
	}
}

func TestMachine_OrderLifecycle(t *testing.T) {
	table := map[Transition]string{
		{"INITIALIZED", "SUBMIT"}: "SUBMITTED",
		{"SUBMITTED", "ACCEPT"}:   "ACCEPTED",
		{"ACCEPTED", "FILL"}:      "FILLED",
		{"ACCEPTED", "CANCEL"}:    "CANCELED",
	}
	m := New(table, "INITIALIZED")

	if _, err := m.Trigger("SUBMIT"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Trigger("ACCEPT"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Trigger("FILL"); err != nil {
		t.Fatal(err)
	}
	if m.State() != "FILLED" {
		t.Errorf("expected FILLED, got %q", m.State())
	}
	if _, err := m.Trigger("CANCEL"); err == nil {
		t.Error("expected error canceling a filled order")
	}
}

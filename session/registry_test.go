package session

import (
	"testing"
	"time"

	"github.com/skypoolhq/skypool/types"
)

func newTestSession(user types.UserID, instance types.InstanceID) *Session {
	now := time.Now()
	return &Session{
		ID:           NewSessionID(),
		UserID:       user,
		InstanceID:   instance,
		AllocatedAt:  now,
		LastActivity: now,
		Timeout:      8 * time.Hour,
		Address:      "10.0.0.1",
		Port:         3389,
	}
}

func TestTrackRejectsDoubleAssignment(t *testing.T) {
	registry := NewRegistry()

	first := newTestSession("alice", "i-abc123")
	if err := registry.Track(first); err != nil {
		t.Fatalf("Track returned an error: %s", err)
	}

	second := newTestSession("bob", "i-abc123")
	if err := registry.Track(second); err == nil {
		t.Error("expected Track to reject a second session for the same instance")
	}

	// Re-tracking the same session is allowed.
	if err := registry.Track(first); err != nil {
		t.Errorf("expected re-tracking the same session to succeed, got %s", err)
	}
}

func TestUntrackFreesInstance(t *testing.T) {
	registry := NewRegistry()

	s := newTestSession("alice", "i-abc123")
	if err := registry.Track(s); err != nil {
		t.Fatalf("Track returned an error: %s", err)
	}

	registry.Untrack(s.ID)

	if _, ok := registry.FindByInstance("i-abc123"); ok {
		t.Error("expected the instance to be unbound after Untrack")
	}

	// Untracking again is a no-op.
	registry.Untrack(s.ID)

	other := newTestSession("bob", "i-abc123")
	if err := registry.Track(other); err != nil {
		t.Errorf("expected the instance to be assignable after Untrack, got %s", err)
	}
}

func TestFindByInstance(t *testing.T) {
	registry := NewRegistry()

	s := newTestSession("alice", "i-abc123")
	if err := registry.Track(s); err != nil {
		t.Fatalf("Track returned an error: %s", err)
	}

	found, ok := registry.FindByInstance("i-abc123")
	if !ok {
		t.Fatal("expected to find the session by instance ID")
	}

	if found.UserID != "alice" || found.ID != s.ID {
		t.Errorf("found the wrong session: %+v", found)
	}

	if _, ok := registry.FindByInstance("i-unknown"); ok {
		t.Error("expected no session for an unknown instance")
	}
}

func TestUpdateActivityResetsExpiry(t *testing.T) {
	registry := NewRegistry()

	s := newTestSession("alice", "i-abc123")
	s.Timeout = time.Hour
	s.LastActivity = time.Now().Add(-2 * time.Hour)
	if err := registry.Track(s); err != nil {
		t.Fatalf("Track returned an error: %s", err)
	}

	if expired := registry.ExpiredSessions(time.Now()); len(expired) != 1 {
		t.Fatalf("expected 1 expired session, got %d", len(expired))
	}

	if !registry.UpdateActivity(s.ID) {
		t.Fatal("UpdateActivity returned false for a tracked session")
	}

	if expired := registry.ExpiredSessions(time.Now()); len(expired) != 0 {
		t.Errorf("expected no expired sessions after activity, got %d", len(expired))
	}

	if registry.UpdateActivity("unknown-session") {
		t.Error("expected UpdateActivity to return false for an unknown session")
	}
}

func TestSessionDerivedStates(t *testing.T) {
	now := time.Now()
	s := Session{
		LastActivity: now.Add(-30 * time.Minute),
		Timeout:      time.Hour,
	}

	var stateTests = []struct {
		testName string
		want     bool
		got      bool
	}{
		{"IdleAboveThreshold", true, s.Idle(now, 15*time.Minute)},
		{"NotIdleBelowThreshold", false, s.Idle(now, time.Hour)},
		{"NotExpiredWithinTimeout", false, s.Expired(now)},
		{"ExpiredPastTimeout", true, s.Expired(now.Add(time.Hour))},
	}

	for _, tt := range stateTests {
		t.Run(tt.testName, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("want %v, got %v", tt.want, tt.got)
			}
		})
	}
}

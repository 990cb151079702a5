// shared/models/run_test.go
package models

import (
	"testing"
	"time"
)

func TestIsValidRunMode(t *testing.T) {
	for _, mode := range RunModes {
		if !IsValidRunMode(mode) {
			t.Errorf("IsValidRunMode(%q) = false, want true", mode)
		}
	}
	for _, mode := range []string{"", "6v6", "3V3", "twenty-one"} {
		if IsValidRunMode(mode) {
			t.Errorf("IsValidRunMode(%q) = true, want false", mode)
		}
	}
}

func TestIsValidAccessMode(t *testing.T) {
	for _, access := range []AccessMode{AccessOpen, AccessHostApproval, AccessInviteOnly} {
		if !IsValidAccessMode(access) {
			t.Errorf("IsValidAccessMode(%q) = false, want true", access)
		}
	}
	if IsValidAccessMode("") || IsValidAccessMode("PUBLIC") {
		t.Error("IsValidAccessMode accepted an unknown mode")
	}
}

func TestRunCapacityPredicates(t *testing.T) {
	run := &Run{
		MaxPlayers:  4,
		PlayerIDs:   []string{"host", "p2", "p3"},
		PlayerCount: 3,
	}
	if run.IsFull() {
		t.Error("run with 3/4 players reported full")
	}
	if got := run.OpenSlots(); got != 1 {
		t.Errorf("OpenSlots() = %d, want 1", got)
	}

	run.PlayerIDs = append(run.PlayerIDs, "p4")
	run.PlayerCount = 4
	if !run.IsFull() {
		t.Error("run with 4/4 players not reported full")
	}
	if got := run.OpenSlots(); got != 0 {
		t.Errorf("OpenSlots() = %d, want 0", got)
	}
}

func TestRunMembershipPredicates(t *testing.T) {
	run := &Run{
		HostID:      "host",
		PlayerIDs:   []string{"host", "p2"},
		AllowedUIDs: []string{"p3"},
	}

	if !run.IsMember("host") || !run.IsMember("p2") {
		t.Error("seated players not reported as members")
	}
	if run.IsMember("p3") {
		t.Error("allowed but unseated user reported as member")
	}
	if !run.IsHost("host") || run.IsHost("p2") {
		t.Error("IsHost mismatch")
	}
	if !run.IsAllowed("p3") || run.IsAllowed("p4") {
		t.Error("IsAllowed mismatch")
	}
}

func TestRunLifecyclePredicates(t *testing.T) {
	cases := []struct {
		status   RunStatus
		joinable bool
		terminal bool
	}{
		{RunStatusScheduled, true, false},
		{RunStatusActive, true, false},
		{RunStatusEnded, false, true},
		{RunStatusCancelled, false, true},
	}
	for _, tc := range cases {
		run := &Run{Status: tc.status}
		if got := run.IsJoinable(); got != tc.joinable {
			t.Errorf("IsJoinable() with status %s = %v, want %v", tc.status, got, tc.joinable)
		}
		if got := run.IsTerminal(); got != tc.terminal {
			t.Errorf("IsTerminal() with status %s = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestRunInviteID(t *testing.T) {
	if got := RunInviteID("run-1", "user-9"); got != "run-1:user-9" {
		t.Errorf("RunInviteID = %q, want %q", got, "run-1:user-9")
	}
}

func TestJoinRequestZeroResolvedAt(t *testing.T) {
	req := JoinRequest{
		ID:        "req-1",
		RunID:     "run-1",
		UserID:    "user-1",
		Status:    JoinRequestPending,
		CreatedAt: time.Now(),
	}
	if req.ResolvedAt != nil {
		t.Error("pending request should have nil ResolvedAt")
	}
}

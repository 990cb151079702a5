// shared/models/run.go
package models

import (
	"time"
)

// RunStatus is the lifecycle state of a run.
// scheduled -> active is time-driven; active -> ended|cancelled is terminal.
type RunStatus string

const (
	RunStatusScheduled RunStatus = "scheduled"
	RunStatusActive    RunStatus = "active"
	RunStatusEnded     RunStatus = "ended"
	RunStatusCancelled RunStatus = "cancelled"
)

// AccessMode governs how non-invited users may join a run.
type AccessMode string

const (
	AccessOpen         AccessMode = "OPEN"
	AccessHostApproval AccessMode = "HOST_APPROVAL"
	AccessInviteOnly   AccessMode = "INVITE_ONLY"
)

// Capacity bounds for MaxPlayers. Applied at creation and on capacity edits.
const (
	MinRunCapacity = 2
	MaxRunCapacity = 30
)

// RunModes is the fixed set of accepted format labels.
var RunModes = []string{"1v1", "2v2", "3v3", "4v4", "5v5", "21"}

// IsValidRunMode reports whether mode is one of the accepted format labels.
func IsValidRunMode(mode string) bool {
	for _, m := range RunModes {
		if m == mode {
			return true
		}
	}
	return false
}

// IsValidAccessMode reports whether access is a known access mode.
func IsValidAccessMode(access AccessMode) bool {
	switch access {
	case AccessOpen, AccessHostApproval, AccessInviteOnly:
		return true
	}
	return false
}

// Run represents a pickup game at a court, stored persistently in MongoDB.
// Membership fields (PlayerIDs, PlayerCount, PendingJoinsCount) are written
// exclusively by the run service's transactional commands; PlayerCount must
// equal len(PlayerIDs) at every commit.
type Run struct {
	ID                string     `bson:"_id" json:"id"`
	CourtID           string     `bson:"court_id" json:"courtId"`
	HostID            string     `bson:"host_id" json:"hostId"`
	Status            RunStatus  `bson:"status" json:"status"`
	Mode              string     `bson:"mode" json:"mode"`
	MaxPlayers        int        `bson:"max_players" json:"maxPlayers"`
	PlayerIDs         []string   `bson:"player_ids" json:"playerIds"`
	PlayerCount       int        `bson:"player_count" json:"playerCount"`
	Access            AccessMode `bson:"access" json:"access"`
	AllowedUIDs       []string   `bson:"allowed_uids,omitempty" json:"allowedUids,omitempty"`
	PendingJoinsCount int        `bson:"pending_joins_count" json:"pendingJoinsCount"`
	StartsAt          *time.Time `bson:"starts_at,omitempty" json:"startsAt,omitempty"`
	EndsAt            *time.Time `bson:"ends_at,omitempty" json:"endsAt,omitempty"`
	LastHeartbeatAt   time.Time  `bson:"last_heartbeat_at" json:"lastHeartbeatAt"`
	LastSpotsAlertAt  *time.Time `bson:"last_spots_alert_at,omitempty" json:"lastSpotsAlertAt,omitempty"`
	Notified60m       bool       `bson:"notified_60m" json:"notified60m"`
	Notified10m       bool       `bson:"notified_10m" json:"notified10m"`
	CreatedAt         time.Time  `bson:"created_at" json:"createdAt"`
	EndedAt           *time.Time `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
}

// IsFull reports whether the run has no open spots left.
func (r *Run) IsFull() bool {
	return r.PlayerCount >= r.MaxPlayers
}

// OpenSlots returns the number of open spots (never negative).
func (r *Run) OpenSlots() int {
	open := r.MaxPlayers - r.PlayerCount
	if open < 0 {
		return 0
	}
	return open
}

// IsMember reports whether uid currently holds a spot in the run.
func (r *Run) IsMember(uid string) bool {
	for _, id := range r.PlayerIDs {
		if id == uid {
			return true
		}
	}
	return false
}

// IsHost reports whether uid is the run's host.
func (r *Run) IsHost(uid string) bool {
	return r.HostID == uid
}

// IsAllowed reports whether uid is on the run's allowed (invited) list.
func (r *Run) IsAllowed(uid string) bool {
	for _, id := range r.AllowedUIDs {
		if id == uid {
			return true
		}
	}
	return false
}

// IsJoinable reports whether membership commands may still mutate the run.
func (r *Run) IsJoinable() bool {
	return r.Status == RunStatusActive || r.Status == RunStatusScheduled
}

// IsTerminal reports whether the run has reached a final state.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusEnded || r.Status == RunStatusCancelled
}

// JoinRequestStatus is the lifecycle state of a join request.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestDenied   JoinRequestStatus = "denied"
)

// JoinRequest is a candidate's ask-to-join record for a HOST_APPROVAL run.
// At most one pending request per (run, user) exists at a time; resolved
// requests are kept for history, cancelled ones are deleted.
type JoinRequest struct {
	ID         string            `bson:"_id" json:"id"`
	RunID      string            `bson:"run_id" json:"runId"`
	UserID     string            `bson:"user_id" json:"userId"`
	Status     JoinRequestStatus `bson:"status" json:"status"`
	CreatedAt  time.Time         `bson:"created_at" json:"createdAt"`
	ResolvedAt *time.Time        `bson:"resolved_at,omitempty" json:"resolvedAt,omitempty"`
}

// RunInviteID builds the deterministic document id for a (run, user) invite.
// Re-adding a user to a run's allowed list upserts the same document, so the
// one-time notification never fires twice.
func RunInviteID(runID, userID string) string {
	return runID + ":" + userID
}

// RunInvite is the durable per-(run, user) fan-out record behind the invite
// inbox. Created when a user is added to a run's allowed list.
type RunInvite struct {
	ID        string    `bson:"_id" json:"id"` // RunInviteID(runID, userID)
	RunID     string    `bson:"run_id" json:"runId"`
	UserID    string    `bson:"user_id" json:"userId"`
	Status    string    `bson:"status" json:"status"` // "pending" until acted on by the user
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

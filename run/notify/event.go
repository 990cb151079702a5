// run/notify/event.go
package notify

import (
	"github.com/courtside/run-service/shared/models"
)

// EventType identifies a committed run state transition the dispatcher reacts to.
type EventType string

const (
	// EventRunActivated fires when a run is created directly in the active
	// state or a scheduled run's start time arrives.
	EventRunActivated EventType = "run_activated"
	// EventSpotsChanged fires when a membership write changes playerCount on
	// an active run.
	EventSpotsChanged EventType = "spots_changed"
	// EventRunCancelled fires when a host cancels a run.
	EventRunCancelled EventType = "run_cancelled"
	// EventInviteesAdded fires when users are added to a run's allowed list.
	EventInviteesAdded EventType = "invitees_added"
	// EventInviteesRemoved fires when users are removed from a run's allowed list.
	EventInviteesRemoved EventType = "invitees_removed"
	// EventRunReminder fires from the lifecycle sweeper when a run enters a
	// pre-start reminder window.
	EventRunReminder EventType = "run_reminder"
)

// Event carries a snapshot of the run as committed, plus transition-specific
// payload fields. Events are produced after commit and consumed strictly
// downstream; nothing here can roll back the originating transaction.
type Event struct {
	Type EventType
	Run  models.Run

	// OpenBefore/OpenAfter are set for EventSpotsChanged.
	OpenBefore int
	OpenAfter  int

	// Members is the membership snapshot at cancellation, set for EventRunCancelled.
	Members []string

	// UserIDs is the set of added/removed uids for the invitee events.
	UserIDs []string

	// ReminderLead is the human label of the reminder window ("60m", "10m"),
	// set for EventRunReminder.
	ReminderLead string
}

// Publisher is the committed-transition sink the transaction engine and the
// lifecycle sweeper publish into.
type Publisher interface {
	Publish(evt Event)
}

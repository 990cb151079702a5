// run/notify/dispatcher.go
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/courtside/run-service/shared/models"
)

// CourtLookup resolves a court's display name for notification text.
type CourtLookup interface {
	GetCourtName(ctx context.Context, courtID string) (string, error)
}

// TokenLookup enumerates a user's registered push delivery tokens.
type TokenLookup interface {
	GetUserTokens(ctx context.Context, userID string) ([]string, error)
}

// InviteWriter persists and removes the durable per-(run, user) invite records.
type InviteWriter interface {
	Upsert(ctx context.Context, invite *models.RunInvite) (bool, error)
	Delete(ctx context.Context, runID, userID string) error
}

// AlertMarker stamps a run's last open-spot alert time, conditioned on the
// cooldown window, and reports whether the caller owns the alert.
type AlertMarker interface {
	MarkSpotsAlerted(ctx context.Context, runID string, now, cooldownCutoff time.Time) (bool, error)
}

// Pusher is the fire-and-forget push delivery gateway.
type Pusher interface {
	SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error
	SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Dispatcher consumes committed run transitions from a buffered queue and
// fans out notifications. It is strictly downstream of the transaction
// engine: every failure here is logged and dropped, never propagated back,
// and a full queue sheds events rather than blocking a commit.
type Dispatcher struct {
	courts   CourtLookup
	tokens   TokenLookup
	invites  InviteWriter
	alerts   AlertMarker
	pusher   Pusher
	cooldown time.Duration
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// NewDispatcher creates a new Dispatcher instance.
// queueSize bounds the committed-event backlog; cooldown throttles repeated
// open-spot alerts for the same run.
func NewDispatcher(
	courts CourtLookup,
	tokens TokenLookup,
	invites InviteWriter,
	alerts AlertMarker,
	pusher Pusher,
	queueSize int,
	cooldown time.Duration,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		courts:   courts,
		tokens:   tokens,
		invites:  invites,
		alerts:   alerts,
		pusher:   pusher,
		cooldown: cooldown,
		events:   make(chan Event, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		doneChan: make(chan struct{}),
	}
}

// Publish enqueues a committed transition without blocking the caller.
// If the queue is full the event is dropped with a warning; the run state
// itself is already durable, only the notification is lost.
func (d *Dispatcher) Publish(evt Event) {
	select {
	case d.events <- evt:
	default:
		log.Printf("WARN: Dispatcher: event queue full, dropping %s event for run %s", evt.Type, evt.Run.ID)
	}
}

// Start begins consuming events. This should be run in a goroutine.
func (d *Dispatcher) Start() {
	log.Println("Notification dispatcher started.")
	defer close(d.doneChan)

	for {
		select {
		case <-d.ctx.Done():
			log.Println("Notification dispatcher shutting down.")
			return
		case evt := <-d.events:
			d.handleEvent(evt)
		}
	}
}

// Stop signals the dispatcher to stop and waits for the consumer loop to exit.
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.doneChan
}

// handleEvent routes a single committed transition to its handler.
func (d *Dispatcher) handleEvent(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch evt.Type {
	case EventRunActivated:
		d.handleRunActivated(ctx, evt)
	case EventSpotsChanged:
		d.handleSpotsChanged(ctx, evt)
	case EventRunCancelled:
		d.handleRunCancelled(ctx, evt)
	case EventInviteesAdded:
		d.handleInviteesAdded(ctx, evt)
	case EventInviteesRemoved:
		d.handleInviteesRemoved(ctx, evt)
	case EventRunReminder:
		d.handleRunReminder(ctx, evt)
	default:
		log.Printf("WARN: Dispatcher: unknown event type %q for run %s. Skipping.", evt.Type, evt.Run.ID)
	}
}

// handleRunActivated notifies subscribers of the run's court that a run is on.
func (d *Dispatcher) handleRunActivated(ctx context.Context, evt Event) {
	courtName := d.courtName(ctx, evt.Run.CourtID)
	title := fmt.Sprintf("Run starting at %s", courtName)
	body := fmt.Sprintf("A %s run is on at %s. %d spots open.", evt.Run.Mode, courtName, evt.Run.OpenSlots())

	topic := CourtTopic(evt.Run.CourtID)
	if err := d.pusher.SendToTopic(ctx, topic, title, body, map[string]string{"runId": evt.Run.ID}); err != nil {
		log.Printf("WARN: Dispatcher: failed to push activation for run %s to topic %s: %v", evt.Run.ID, topic, err)
	}
}

// handleSpotsChanged alerts the court topic when a spot opens back up or the
// run is nearly full, throttled per run by the persisted last-alert timestamp.
func (d *Dispatcher) handleSpotsChanged(ctx context.Context, evt Event) {
	reopened := evt.OpenBefore == 0 && evt.OpenAfter > 0
	runningLow := evt.OpenAfter >= 1 && evt.OpenAfter <= 3
	if !reopened && !runningLow {
		return
	}

	now := time.Now()
	owns, err := d.alerts.MarkSpotsAlerted(ctx, evt.Run.ID, now, now.Add(-d.cooldown))
	if err != nil {
		log.Printf("WARN: Dispatcher: failed to check spots-alert cooldown for run %s: %v", evt.Run.ID, err)
		return
	}
	if !owns {
		return // A recent alert for this run already went out.
	}

	courtName := d.courtName(ctx, evt.Run.CourtID)
	title := fmt.Sprintf("Spots open at %s", courtName)
	var body string
	if evt.OpenAfter == 1 {
		body = fmt.Sprintf("1 spot left in the %s run at %s.", evt.Run.Mode, courtName)
	} else {
		body = fmt.Sprintf("%d spots open in the %s run at %s.", evt.OpenAfter, evt.Run.Mode, courtName)
	}

	topic := CourtTopic(evt.Run.CourtID)
	if err := d.pusher.SendToTopic(ctx, topic, title, body, map[string]string{"runId": evt.Run.ID}); err != nil {
		log.Printf("WARN: Dispatcher: failed to push spots alert for run %s to topic %s: %v", evt.Run.ID, topic, err)
	}
}

// handleRunCancelled notifies every member of the cancelled run directly.
func (d *Dispatcher) handleRunCancelled(ctx context.Context, evt Event) {
	if len(evt.Members) == 0 {
		return
	}

	courtName := d.courtName(ctx, evt.Run.CourtID)
	title := "Run cancelled"
	body := fmt.Sprintf("The %s run at %s was cancelled by the host.", evt.Run.Mode, courtName)

	for _, uid := range evt.Members {
		d.pushToUser(ctx, uid, title, body, map[string]string{"runId": evt.Run.ID})
	}
}

// handleInviteesAdded creates one durable invite per newly allowed user and
// notifies their devices. The deterministic invite id makes re-adds no-ops.
func (d *Dispatcher) handleInviteesAdded(ctx context.Context, evt Event) {
	courtName := d.courtName(ctx, evt.Run.CourtID)
	title := "You're invited to a run"
	body := fmt.Sprintf("You've been invited to a %s run at %s.", evt.Run.Mode, courtName)

	for _, uid := range evt.UserIDs {
		if uid == evt.Run.HostID {
			continue // The host never needs an invite to their own run.
		}
		invite := &models.RunInvite{
			ID:        models.RunInviteID(evt.Run.ID, uid),
			RunID:     evt.Run.ID,
			UserID:    uid,
			Status:    "pending",
			CreatedAt: time.Now(),
		}
		created, err := d.invites.Upsert(ctx, invite)
		if err != nil {
			log.Printf("WARN: Dispatcher: failed to upsert invite for run %s user %s: %v", evt.Run.ID, uid, err)
			continue
		}
		if !created {
			continue // Already invited; the one-time notification already went out.
		}
		d.pushToUser(ctx, uid, title, body, map[string]string{"runId": evt.Run.ID})
	}
}

// handleInviteesRemoved deletes the invite records; no notification is sent.
func (d *Dispatcher) handleInviteesRemoved(ctx context.Context, evt Event) {
	for _, uid := range evt.UserIDs {
		if err := d.invites.Delete(ctx, evt.Run.ID, uid); err != nil {
			log.Printf("WARN: Dispatcher: failed to delete invite for run %s user %s: %v", evt.Run.ID, uid, err)
		}
	}
}

// handleRunReminder notifies every member that their run starts soon.
func (d *Dispatcher) handleRunReminder(ctx context.Context, evt Event) {
	courtName := d.courtName(ctx, evt.Run.CourtID)
	title := "Run starting soon"
	body := fmt.Sprintf("Your run at %s starts in about %s.", courtName, evt.ReminderLead)

	for _, uid := range evt.Run.PlayerIDs {
		d.pushToUser(ctx, uid, title, body, map[string]string{"runId": evt.Run.ID})
	}
}

// pushToUser looks up a user's devices and sends directly to their tokens.
func (d *Dispatcher) pushToUser(ctx context.Context, userID, title, body string, data map[string]string) {
	tokens, err := d.tokens.GetUserTokens(ctx, userID)
	if err != nil {
		log.Printf("WARN: Dispatcher: failed to look up push tokens for user %s: %v", userID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}
	if err := d.pusher.SendToTokens(ctx, tokens, title, body, data); err != nil {
		log.Printf("WARN: Dispatcher: failed to push to user %s devices: %v", userID, err)
	}
}

// courtName resolves the court display name, falling back to a generic label.
func (d *Dispatcher) courtName(ctx context.Context, courtID string) string {
	name, err := d.courts.GetCourtName(ctx, courtID)
	if err != nil {
		log.Printf("WARN: Dispatcher: failed to look up court %s: %v", courtID, err)
		return "the court"
	}
	return name
}

// CourtTopic builds the push topic name for a court, sanitizing characters
// the delivery transport does not accept in topic names.
func CourtTopic(courtID string) string {
	var b strings.Builder
	for _, r := range courtID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return "court_" + b.String()
}

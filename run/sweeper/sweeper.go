// run/sweeper/sweeper.go
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/courtside/run-service/run/notify"
	"github.com/courtside/run-service/shared/config"
	"github.com/courtside/run-service/shared/models"
)

// Sweep task keys. Leadership for each sweep is decided independently by the
// consistent-hash ring, so different instances can own different sweeps.
const (
	taskActivation = "run-activation-sweep"
	taskExpiry     = "run-expiry-sweep"
	taskReminders  = "run-reminder-sweep"
	taskPurge      = "run-purge-sweep"
)

// Reminder flag fields on the run document, one per reminder window.
const (
	flagNotified60m = "notified_60m"
	flagNotified10m = "notified_10m"
)

// SweepStore is the conditional-update surface the sweeper drives. Every
// method is safe to re-run; the conditions make concurrent sweeps lose
// cleanly instead of double-firing.
type SweepStore interface {
	ActivateDue(ctx context.Context, now time.Time) ([]models.Run, error)
	ExpireStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	FindDueForReminder(ctx context.Context, flagField string, now, deadline time.Time) ([]models.Run, error)
	MarkReminded(ctx context.Context, runID, flagField string) (bool, error)
	FindPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	DeleteRunsByIDs(ctx context.Context, runIDs []string) (int64, error)
}

// RunDataPurger removes run-scoped child documents during retention purge.
type RunDataPurger interface {
	DeleteByRunIDs(ctx context.Context, runIDs []string) (int64, error)
}

// Leadership decides whether this instance owns a named background task.
type Leadership interface {
	IsResponsible(entityID string) (bool, error)
}

// Sweeper runs the periodic lifecycle passes: activating scheduled runs,
// expiring stale ones, sending pre-start reminders, and purging terminal runs
// past retention. Each pass is gated by cluster leadership so exactly one
// instance performs it per tick.
type Sweeper struct {
	config     *config.RunServiceConfig
	leadership Leadership
	runs       SweepStore
	requests   RunDataPurger
	invites    RunDataPurger
	events     notify.Publisher
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewSweeper creates a new Sweeper instance.
func NewSweeper(
	cfg *config.RunServiceConfig,
	leadership Leadership,
	runs SweepStore,
	requests RunDataPurger,
	invites RunDataPurger,
	events notify.Publisher,
) *Sweeper {
	log.Println("Sweeper: Initialized.")
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		config:     cfg,
		leadership: leadership,
		runs:       runs,
		requests:   requests,
		invites:    invites,
		events:     events,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the sweep loops. This should be run in a goroutine.
// Activation shares the reminder interval since both track starts_at.
func (s *Sweeper) Start() {
	log.Printf("Sweeper starting (expiry every %v, reminders every %v, purge every %v)",
		s.config.ExpirySweepInterval, s.config.ReminderSweepInterval, s.config.PurgeSweepInterval)

	activationTicker := time.NewTicker(s.config.ReminderSweepInterval)
	defer activationTicker.Stop()
	expiryTicker := time.NewTicker(s.config.ExpirySweepInterval)
	defer expiryTicker.Stop()
	reminderTicker := time.NewTicker(s.config.ReminderSweepInterval)
	defer reminderTicker.Stop()
	purgeTicker := time.NewTicker(s.config.PurgeSweepInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Sweeper shutting down.")
			return
		case <-activationTicker.C:
			if s.ownsTask(taskActivation) {
				s.performActivationSweep(time.Now())
			}
		case <-expiryTicker.C:
			if s.ownsTask(taskExpiry) {
				s.performExpirySweep(time.Now())
			}
		case <-reminderTicker.C:
			if s.ownsTask(taskReminders) {
				s.performReminderSweep(time.Now())
			}
		case <-purgeTicker.C:
			if s.ownsTask(taskPurge) {
				s.performPurgeSweep(time.Now())
			}
		}
	}
}

// Stop gracefully stops the sweep loops.
func (s *Sweeper) Stop() {
	s.cancel()
}

// ownsTask checks whether this instance holds leadership for a sweep task.
func (s *Sweeper) ownsTask(taskKey string) bool {
	responsible, err := s.leadership.IsResponsible(taskKey)
	if err != nil {
		log.Printf("WARNING: Sweeper: Failed to check responsibility for %s: %v", taskKey, err)
		return false
	}
	return responsible
}

// performActivationSweep flips scheduled runs whose start time has arrived to
// active and announces each to its court.
func (s *Sweeper) performActivationSweep(now time.Time) {
	activated, err := s.runs.ActivateDue(s.ctx, now)
	if err != nil {
		log.Printf("ERROR: Sweeper: Activation sweep failed: %v", err)
		return
	}
	if len(activated) == 0 {
		return
	}
	log.Printf("INFO: Sweeper: Activated %d scheduled runs.", len(activated))
	if s.events == nil {
		return
	}
	for _, run := range activated {
		s.events.Publish(notify.Event{Type: notify.EventRunActivated, Run: run})
	}
}

// performExpirySweep ends active runs with no membership write inside the
// staleness window. Expiry is silent; no notification goes out.
func (s *Sweeper) performExpirySweep(now time.Time) {
	cutoff := now.Add(-s.config.RunStalenessWindow)
	ended, err := s.runs.ExpireStale(s.ctx, cutoff, now)
	if err != nil {
		log.Printf("ERROR: Sweeper: Expiry sweep failed: %v", err)
		return
	}
	if ended > 0 {
		log.Printf("INFO: Sweeper: Expired %d stale runs (no activity since %v).", ended, cutoff)
	}
}

// performReminderSweep sends the pre-start reminders, long window first so a
// run entering both windows at once gets the long reminder and has the short
// one still pending for a later tick.
func (s *Sweeper) performReminderSweep(now time.Time) {
	s.remindWindow(now, s.config.ReminderLeadLong, flagNotified60m)
	s.remindWindow(now, s.config.ReminderLeadShort, flagNotified10m)
}

// remindWindow handles one reminder window: find due runs, win the per-run
// flag, and publish. Losing the flag means another instance already sent it.
func (s *Sweeper) remindWindow(now time.Time, lead time.Duration, flagField string) {
	due, err := s.runs.FindDueForReminder(s.ctx, flagField, now, now.Add(lead))
	if err != nil {
		log.Printf("ERROR: Sweeper: Reminder sweep (%s) failed: %v", flagField, err)
		return
	}
	for _, run := range due {
		owns, err := s.runs.MarkReminded(s.ctx, run.ID, flagField)
		if err != nil {
			log.Printf("WARNING: Sweeper: Failed to mark run %s reminded (%s): %v", run.ID, flagField, err)
			continue
		}
		if !owns {
			continue
		}
		if s.events != nil {
			s.events.Publish(notify.Event{
				Type:         notify.EventRunReminder,
				Run:          run,
				ReminderLead: lead.String(),
			})
		}
	}
}

// performPurgeSweep hard-deletes terminal runs past retention in batches,
// along with their join requests and invites, until a short batch signals
// the backlog is drained.
func (s *Sweeper) performPurgeSweep(now time.Time) {
	cutoff := now.Add(-s.config.RunRetentionWindow)
	var total int64
	for {
		ids, err := s.runs.FindPurgeable(s.ctx, cutoff, s.config.PurgeBatchSize)
		if err != nil {
			log.Printf("ERROR: Sweeper: Purge sweep failed to find candidates: %v", err)
			return
		}
		if len(ids) == 0 {
			break
		}
		if _, err := s.requests.DeleteByRunIDs(s.ctx, ids); err != nil {
			log.Printf("ERROR: Sweeper: Purge sweep failed to delete join requests: %v", err)
			return
		}
		if _, err := s.invites.DeleteByRunIDs(s.ctx, ids); err != nil {
			log.Printf("ERROR: Sweeper: Purge sweep failed to delete invites: %v", err)
			return
		}
		deleted, err := s.runs.DeleteRunsByIDs(s.ctx, ids)
		if err != nil {
			log.Printf("ERROR: Sweeper: Purge sweep failed to delete runs: %v", err)
			return
		}
		total += deleted
		if len(ids) < s.config.PurgeBatchSize {
			break
		}
	}
	if total > 0 {
		log.Printf("INFO: Sweeper: Purged %d terminal runs older than %v.", total, cutoff)
	}
}

// run/sweeper/sweeper_test.go
package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/courtside/run-service/run/notify"
	"github.com/courtside/run-service/shared/config"
	"github.com/courtside/run-service/shared/models"
)

type fakeSweepStore struct {
	activated  []models.Run
	expired    int64
	expiredCut time.Time

	remindable map[string][]models.Run // flag field -> due runs
	reminded   map[string]bool         // runID+flag -> already flagged

	purgeBatches [][]string
	deleted      []string
}

func (f *fakeSweepStore) ActivateDue(ctx context.Context, now time.Time) ([]models.Run, error) {
	return f.activated, nil
}

func (f *fakeSweepStore) ExpireStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	f.expiredCut = cutoff
	return f.expired, nil
}

func (f *fakeSweepStore) FindDueForReminder(ctx context.Context, flagField string, now, deadline time.Time) ([]models.Run, error) {
	return f.remindable[flagField], nil
}

func (f *fakeSweepStore) MarkReminded(ctx context.Context, runID, flagField string) (bool, error) {
	key := runID + "/" + flagField
	if f.reminded[key] {
		return false, nil
	}
	if f.reminded == nil {
		f.reminded = make(map[string]bool)
	}
	f.reminded[key] = true
	return true, nil
}

func (f *fakeSweepStore) FindPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if len(f.purgeBatches) == 0 {
		return nil, nil
	}
	batch := f.purgeBatches[0]
	f.purgeBatches = f.purgeBatches[1:]
	return batch, nil
}

func (f *fakeSweepStore) DeleteRunsByIDs(ctx context.Context, runIDs []string) (int64, error) {
	f.deleted = append(f.deleted, runIDs...)
	return int64(len(runIDs)), nil
}

type fakePurger struct {
	purged [][]string
}

func (f *fakePurger) DeleteByRunIDs(ctx context.Context, runIDs []string) (int64, error) {
	f.purged = append(f.purged, runIDs)
	return int64(len(runIDs)), nil
}

type fakeLeadership struct {
	responsible bool
}

func (f fakeLeadership) IsResponsible(entityID string) (bool, error) {
	return f.responsible, nil
}

type eventRecorder struct {
	events []notify.Event
}

func (e *eventRecorder) Publish(evt notify.Event) {
	e.events = append(e.events, evt)
}

func testConfig() *config.RunServiceConfig {
	return &config.RunServiceConfig{
		ExpirySweepInterval:   15 * time.Minute,
		RunStalenessWindow:    time.Hour,
		ReminderSweepInterval: 5 * time.Minute,
		ReminderLeadLong:      time.Hour,
		ReminderLeadShort:     10 * time.Minute,
		PurgeSweepInterval:    24 * time.Hour,
		RunRetentionWindow:    30 * 24 * time.Hour,
		PurgeBatchSize:        2,
	}
}

func newTestSweeper(store *fakeSweepStore) (*Sweeper, *fakePurger, *fakePurger, *eventRecorder) {
	requests := &fakePurger{}
	invites := &fakePurger{}
	events := &eventRecorder{}
	s := NewSweeper(testConfig(), fakeLeadership{responsible: true}, store, requests, invites, events)
	return s, requests, invites, events
}

func TestActivationSweepPublishesPerRun(t *testing.T) {
	store := &fakeSweepStore{
		activated: []models.Run{
			{ID: "run-1", Status: models.RunStatusActive},
			{ID: "run-2", Status: models.RunStatusActive},
		},
	}
	s, _, _, events := newTestSweeper(store)

	s.performActivationSweep(time.Now())

	if len(events.events) != 2 {
		t.Fatalf("expected 2 activation events, got %d", len(events.events))
	}
	for _, evt := range events.events {
		if evt.Type != notify.EventRunActivated {
			t.Errorf("event type = %s, want run_activated", evt.Type)
		}
	}
}

func TestExpirySweepUsesStalenessWindow(t *testing.T) {
	store := &fakeSweepStore{expired: 3}
	s, _, _, events := newTestSweeper(store)

	now := time.Now()
	s.performExpirySweep(now)

	wantCutoff := now.Add(-time.Hour)
	if !store.expiredCut.Equal(wantCutoff) {
		t.Errorf("expiry cutoff = %v, want %v", store.expiredCut, wantCutoff)
	}
	if len(events.events) != 0 {
		t.Errorf("expiry sweep published events: %+v", events.events)
	}
}

func TestReminderSweepFlagsOncePerWindow(t *testing.T) {
	run := models.Run{ID: "run-1", Status: models.RunStatusScheduled}
	store := &fakeSweepStore{
		remindable: map[string][]models.Run{
			flagNotified60m: {run},
		},
		reminded: make(map[string]bool),
	}
	s, _, _, events := newTestSweeper(store)

	now := time.Now()
	s.performReminderSweep(now)
	if len(events.events) != 1 {
		t.Fatalf("expected 1 reminder event, got %d", len(events.events))
	}
	evt := events.events[0]
	if evt.Type != notify.EventRunReminder || evt.ReminderLead != time.Hour.String() {
		t.Errorf("unexpected reminder event: %+v", evt)
	}

	// Second pass over the same run: the flag is already set, nothing fires.
	s.performReminderSweep(now)
	if len(events.events) != 1 {
		t.Errorf("reminder sent twice for the same window: %d events", len(events.events))
	}
}

func TestReminderSweepBothWindows(t *testing.T) {
	store := &fakeSweepStore{
		remindable: map[string][]models.Run{
			flagNotified60m: {{ID: "run-far", Status: models.RunStatusScheduled}},
			flagNotified10m: {{ID: "run-near", Status: models.RunStatusScheduled}},
		},
		reminded: make(map[string]bool),
	}
	s, _, _, events := newTestSweeper(store)

	s.performReminderSweep(time.Now())

	if len(events.events) != 2 {
		t.Fatalf("expected 2 reminder events, got %d", len(events.events))
	}
	if events.events[0].Run.ID != "run-far" || events.events[1].Run.ID != "run-near" {
		t.Errorf("long window must fire before short: %+v", events.events)
	}
}

func TestPurgeSweepDrainsBatches(t *testing.T) {
	store := &fakeSweepStore{
		purgeBatches: [][]string{
			{"run-1", "run-2"}, // full batch, keep going
			{"run-3"},          // short batch, stop
		},
	}
	s, requests, invites, _ := newTestSweeper(store)

	s.performPurgeSweep(time.Now())

	if got := len(store.deleted); got != 3 {
		t.Errorf("deleted %d runs, want 3", got)
	}
	if len(requests.purged) != 2 || len(invites.purged) != 2 {
		t.Errorf("child documents not purged per batch: requests=%d invites=%d",
			len(requests.purged), len(invites.purged))
	}
}

func TestSweeperSkipsWhenNotLeader(t *testing.T) {
	store := &fakeSweepStore{}
	s := NewSweeper(testConfig(), fakeLeadership{responsible: false}, store, &fakePurger{}, &fakePurger{}, &eventRecorder{})

	if s.ownsTask(taskExpiry) {
		t.Error("ownsTask() = true for non-leader instance")
	}
}

// run/service/run_service_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/courtside/run-service/run/notify"
	"github.com/courtside/run-service/shared/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// --- In-memory fakes ---

// passthroughTxn runs the callback directly; the fakes below are single
// threaded so there is nothing to retry.
type passthroughTxn struct{}

func (passthroughTxn) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func cloneRun(r models.Run) models.Run {
	r.PlayerIDs = append([]string(nil), r.PlayerIDs...)
	r.AllowedUIDs = append([]string(nil), r.AllowedUIDs...)
	return r
}

type fakeRunStore struct {
	runs map[string]models.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]models.Run)}
}

func (f *fakeRunStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	c := cloneRun(r)
	return &c, nil
}

func (f *fakeRunStore) InsertRun(ctx context.Context, run *models.Run) error {
	f.runs[run.ID] = cloneRun(*run)
	return nil
}

func (f *fakeRunStore) ReplaceRun(ctx context.Context, run *models.Run) error {
	if _, ok := f.runs[run.ID]; !ok {
		return errors.New("run not found for replace")
	}
	f.runs[run.ID] = cloneRun(*run)
	return nil
}

type fakeRequestStore struct {
	reqs map[string]models.JoinRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{reqs: make(map[string]models.JoinRequest)}
}

func (f *fakeRequestStore) Insert(ctx context.Context, req *models.JoinRequest) error {
	f.reqs[req.ID] = *req
	return nil
}

func (f *fakeRequestStore) GetPending(ctx context.Context, runID, userID string) (*models.JoinRequest, error) {
	for _, r := range f.reqs {
		if r.RunID == runID && r.UserID == userID && r.Status == models.JoinRequestPending {
			c := r
			return &c, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeRequestStore) Resolve(ctx context.Context, requestID string, status models.JoinRequestStatus, resolvedAt time.Time) error {
	r, ok := f.reqs[requestID]
	if !ok {
		return errors.New("request not found")
	}
	r.Status = status
	r.ResolvedAt = &resolvedAt
	f.reqs[requestID] = r
	return nil
}

func (f *fakeRequestStore) Delete(ctx context.Context, requestID string) error {
	delete(f.reqs, requestID)
	return nil
}

type fakeSquadStore struct {
	squads map[string]models.Squad
}

func (f *fakeSquadStore) GetSquad(ctx context.Context, squadID string) (*models.Squad, error) {
	s, ok := f.squads[squadID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	c := s
	return &c, nil
}

type eventRecorder struct {
	events []notify.Event
}

func (e *eventRecorder) Publish(evt notify.Event) {
	e.events = append(e.events, evt)
}

type fixture struct {
	svc      *RunService
	runs     *fakeRunStore
	requests *fakeRequestStore
	squads   *fakeSquadStore
	events   *eventRecorder
}

func newFixture() *fixture {
	runs := newFakeRunStore()
	requests := newFakeRequestStore()
	squads := &fakeSquadStore{squads: make(map[string]models.Squad)}
	events := &eventRecorder{}
	return &fixture{
		svc:      NewRunService(passthroughTxn{}, runs, requests, squads, events),
		runs:     runs,
		requests: requests,
		squads:   squads,
		events:   events,
	}
}

func (f *fixture) seedRun(t *testing.T, run models.Run) {
	t.Helper()
	if run.PlayerCount == 0 {
		run.PlayerCount = len(run.PlayerIDs)
	}
	f.runs.runs[run.ID] = cloneRun(run)
}

func (f *fixture) mustGet(t *testing.T, runID string) *models.Run {
	t.Helper()
	run, err := f.runs.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("run %s missing from store: %v", runID, err)
	}
	return run
}

func activeRun(id, host string, maxPlayers int, players ...string) models.Run {
	if len(players) == 0 {
		players = []string{host}
	}
	return models.Run{
		ID:          id,
		CourtID:     "court-1",
		HostID:      host,
		Status:      models.RunStatusActive,
		Mode:        "3v3",
		MaxPlayers:  maxPlayers,
		PlayerIDs:   players,
		PlayerCount: len(players),
		Access:      models.AccessOpen,
		CreatedAt:   time.Now(),
	}
}

// --- CreateRun ---

func TestCreateRunValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name       string
		courtID    string
		hostID     string
		mode       string
		maxPlayers int
	}{
		{"missing court", "", "host", "3v3", 10},
		{"missing host", "court-1", "", "3v3", 10},
		{"bad mode", "court-1", "host", "6v6", 10},
		{"capacity too small", "court-1", "host", "3v3", 1},
		{"capacity too large", "court-1", "host", "3v3", 31},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateRun(ctx, tc.courtID, tc.hostID, tc.mode, tc.maxPlayers, models.AccessOpen, nil, nil)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("CreateRun() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCreateRunActiveImmediately(t *testing.T) {
	f := newFixture()

	run, err := f.svc.CreateRun(context.Background(), "court-1", "host", "5v5", 10, models.AccessOpen, nil, nil)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.Status != models.RunStatusActive {
		t.Errorf("Status = %s, want active", run.Status)
	}
	if run.PlayerCount != 1 || len(run.PlayerIDs) != 1 || run.PlayerIDs[0] != "host" {
		t.Errorf("host not seated: %+v", run)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != notify.EventRunActivated {
		t.Errorf("expected one run_activated event, got %+v", f.events.events)
	}
}

func TestCreateRunScheduledForFutureStart(t *testing.T) {
	f := newFixture()
	startsAt := time.Now().Add(2 * time.Hour)

	run, err := f.svc.CreateRun(context.Background(), "court-1", "host", "3v3", 6, models.AccessOpen, &startsAt, nil)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.Status != models.RunStatusScheduled {
		t.Errorf("Status = %s, want scheduled", run.Status)
	}
	if len(f.events.events) != 0 {
		t.Errorf("scheduled run should emit no events, got %+v", f.events.events)
	}
}

// --- JoinRun ---

func TestJoinRunSeatsPlayer(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 4))

	if err := f.svc.JoinRun(context.Background(), "run-1", "p2"); err != nil {
		t.Fatalf("JoinRun() error = %v", err)
	}

	run := f.mustGet(t, "run-1")
	if run.PlayerCount != 2 || !run.IsMember("p2") {
		t.Errorf("p2 not seated: %+v", run)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.events.events))
	}
	evt := f.events.events[0]
	if evt.Type != notify.EventSpotsChanged || evt.OpenBefore != 3 || evt.OpenAfter != 2 {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestJoinRunIdempotentForMember(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 4, "host", "p2"))

	if err := f.svc.JoinRun(context.Background(), "run-1", "p2"); err != nil {
		t.Fatalf("JoinRun() duplicate error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.PlayerCount != 2 {
		t.Errorf("PlayerCount = %d after duplicate join, want 2", run.PlayerCount)
	}
	if len(f.events.events) != 0 {
		t.Errorf("duplicate join emitted events: %+v", f.events.events)
	}
}

func TestJoinRunFull(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 2, "host", "p2"))

	err := f.svc.JoinRun(context.Background(), "run-1", "p3")
	if !errors.Is(err, ErrRunFull) {
		t.Errorf("JoinRun() error = %v, want ErrRunFull", err)
	}
	run := f.mustGet(t, "run-1")
	if run.PlayerCount != 2 {
		t.Errorf("full run mutated: PlayerCount = %d", run.PlayerCount)
	}
}

func TestJoinRunNotFound(t *testing.T) {
	f := newFixture()
	if err := f.svc.JoinRun(context.Background(), "nope", "p1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("JoinRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestJoinRunClosed(t *testing.T) {
	f := newFixture()
	run := activeRun("run-1", "host", 4)
	run.Status = models.RunStatusEnded
	f.seedRun(t, run)

	if err := f.svc.JoinRun(context.Background(), "run-1", "p2"); !errors.Is(err, ErrRunClosed) {
		t.Errorf("JoinRun() error = %v, want ErrRunClosed", err)
	}
}

func TestJoinRunAccessModes(t *testing.T) {
	cases := []struct {
		name    string
		access  models.AccessMode
		allowed []string
		uid     string
		wantErr error
	}{
		{"host approval without invite", models.AccessHostApproval, nil, "p2", ErrWrongAccessMode},
		{"host approval with invite", models.AccessHostApproval, []string{"p2"}, "p2", nil},
		{"invite only without invite", models.AccessInviteOnly, nil, "p2", ErrForbidden},
		{"invite only with invite", models.AccessInviteOnly, []string{"p2"}, "p2", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			run := activeRun("run-1", "host", 4)
			run.Access = tc.access
			run.AllowedUIDs = tc.allowed
			f.seedRun(t, run)

			err := f.svc.JoinRun(context.Background(), "run-1", tc.uid)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("JoinRun() error = %v, want nil", err)
				}
				if !f.mustGet(t, "run-1").IsMember(tc.uid) {
					t.Error("user not seated")
				}
			} else if !errors.Is(err, tc.wantErr) {
				t.Errorf("JoinRun() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// --- LeaveRun ---

func TestLeaveRunHostTransfer(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2", "p3"))

	if err := f.svc.LeaveRun(context.Background(), "run-1", "host"); err != nil {
		t.Fatalf("LeaveRun() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.HostID != "p2" {
		t.Errorf("HostID = %s, want p2 (first remaining in seat order)", run.HostID)
	}
	if run.IsMember("host") || run.PlayerCount != 2 {
		t.Errorf("departing host still seated: %+v", run)
	}
}

func TestLeaveRunSoleHost(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6))

	err := f.svc.LeaveRun(context.Background(), "run-1", "host")
	if !errors.Is(err, ErrHostSoloCannotLeave) {
		t.Errorf("LeaveRun() error = %v, want ErrHostSoloCannotLeave", err)
	}
}

func TestLeaveRunNonMemberNoOp(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2"))

	if err := f.svc.LeaveRun(context.Background(), "run-1", "stranger"); err != nil {
		t.Fatalf("LeaveRun() error = %v, want nil", err)
	}
	if f.mustGet(t, "run-1").PlayerCount != 2 {
		t.Error("non-member leave mutated the run")
	}
	if len(f.events.events) != 0 {
		t.Errorf("non-member leave emitted events: %+v", f.events.events)
	}
}

func TestLeaveRunTerminal(t *testing.T) {
	f := newFixture()
	run := activeRun("run-1", "host", 6, "host", "p2")
	run.Status = models.RunStatusCancelled
	f.seedRun(t, run)

	if err := f.svc.LeaveRun(context.Background(), "run-1", "p2"); !errors.Is(err, ErrRunClosed) {
		t.Errorf("LeaveRun() error = %v, want ErrRunClosed", err)
	}
}

// --- KickPlayer ---

func TestKickPlayer(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2", "p3"))

	if err := f.svc.KickPlayer(context.Background(), "run-1", "host", "p2"); err != nil {
		t.Fatalf("KickPlayer() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.IsMember("p2") || run.PlayerCount != 2 {
		t.Errorf("p2 not removed: %+v", run)
	}
}

func TestKickPlayerNonHostForbidden(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2", "p3"))

	err := f.svc.KickPlayer(context.Background(), "run-1", "p2", "p3")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("KickPlayer() by non-host error = %v, want ErrForbidden", err)
	}
}

func TestKickPlayerCannotKickHost(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2"))

	err := f.svc.KickPlayer(context.Background(), "run-1", "host", "host")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("KickPlayer() of host error = %v, want ErrForbidden", err)
	}
}

// --- Join requests ---

func hostApprovalRun(id, host string, maxPlayers int, players ...string) models.Run {
	run := activeRun(id, host, maxPlayers, players...)
	run.Access = models.AccessHostApproval
	return run
}

func TestRequestJoinRun(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 4))
	ctx := context.Background()

	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() error = %v", err)
	}
	if f.mustGet(t, "run-1").PendingJoinsCount != 1 {
		t.Error("PendingJoinsCount not incremented")
	}
	if _, err := f.requests.GetPending(ctx, "run-1", "p2"); err != nil {
		t.Errorf("pending request not stored: %v", err)
	}

	// A second request while one is pending is rejected.
	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); !errors.Is(err, ErrAlreadyRequested) {
		t.Errorf("duplicate RequestJoinRun() error = %v, want ErrAlreadyRequested", err)
	}
}

func TestRequestJoinRunWrongAccessMode(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 4))

	err := f.svc.RequestJoinRun(context.Background(), "run-1", "p2")
	if !errors.Is(err, ErrWrongAccessMode) {
		t.Errorf("RequestJoinRun() on open run error = %v, want ErrWrongAccessMode", err)
	}
}

func TestRequestJoinRunMemberNoOp(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 4, "host", "p2"))

	if err := f.svc.RequestJoinRun(context.Background(), "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() by member error = %v, want nil", err)
	}
	if f.mustGet(t, "run-1").PendingJoinsCount != 0 {
		t.Error("member request incremented PendingJoinsCount")
	}
}

func TestCancelJoinRequest(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 4))
	ctx := context.Background()

	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() error = %v", err)
	}
	if err := f.svc.CancelJoinRequest(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("CancelJoinRequest() error = %v", err)
	}
	if f.mustGet(t, "run-1").PendingJoinsCount != 0 {
		t.Error("PendingJoinsCount not decremented")
	}
	if _, err := f.requests.GetPending(ctx, "run-1", "p2"); err != mongo.ErrNoDocuments {
		t.Error("cancelled request still pending")
	}

	// Cancelling again is a no-op.
	if err := f.svc.CancelJoinRequest(ctx, "run-1", "p2"); err != nil {
		t.Errorf("second CancelJoinRequest() error = %v, want nil", err)
	}
}

func TestApproveJoinRequestSeats(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 4))
	ctx := context.Background()

	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() error = %v", err)
	}
	if err := f.svc.ApproveJoinRequest(ctx, "run-1", "host", "p2"); err != nil {
		t.Fatalf("ApproveJoinRequest() error = %v", err)
	}

	run := f.mustGet(t, "run-1")
	if !run.IsMember("p2") || run.PlayerCount != 2 {
		t.Errorf("approved user not seated: %+v", run)
	}
	if run.PendingJoinsCount != 0 {
		t.Errorf("PendingJoinsCount = %d, want 0", run.PendingJoinsCount)
	}
	for _, req := range f.requests.reqs {
		if req.UserID == "p2" && req.Status != models.JoinRequestApproved {
			t.Errorf("request status = %s, want approved", req.Status)
		}
	}
}

func TestApproveJoinRequestWhenFullDenies(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 2))
	ctx := context.Background()

	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() error = %v", err)
	}

	// The last spot fills while the request is pending.
	run := f.mustGet(t, "run-1")
	run.PlayerIDs = append(run.PlayerIDs, "p3")
	run.PlayerCount = 2
	f.seedRun(t, *run)

	if err := f.svc.ApproveJoinRequest(ctx, "run-1", "host", "p2"); err != nil {
		t.Fatalf("ApproveJoinRequest() error = %v", err)
	}
	got := f.mustGet(t, "run-1")
	if got.IsMember("p2") {
		t.Error("user seated past capacity")
	}
	if got.PendingJoinsCount != 0 {
		t.Errorf("PendingJoinsCount = %d, want 0", got.PendingJoinsCount)
	}
	for _, req := range f.requests.reqs {
		if req.UserID == "p2" && req.Status != models.JoinRequestDenied {
			t.Errorf("request status = %s, want denied when run is full", req.Status)
		}
	}
}

func TestApproveJoinRequestNonHostForbidden(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 4))
	ctx := context.Background()

	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() error = %v", err)
	}
	if err := f.svc.ApproveJoinRequest(ctx, "run-1", "p2", "p2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("ApproveJoinRequest() by non-host error = %v, want ErrForbidden", err)
	}
}

func TestDenyJoinRequest(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 4))
	ctx := context.Background()

	if err := f.svc.RequestJoinRun(ctx, "run-1", "p2"); err != nil {
		t.Fatalf("RequestJoinRun() error = %v", err)
	}
	if err := f.svc.DenyJoinRequest(ctx, "run-1", "host", "p2"); err != nil {
		t.Fatalf("DenyJoinRequest() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.IsMember("p2") || run.PendingJoinsCount != 0 {
		t.Errorf("deny mutated membership or left counter: %+v", run)
	}
	if err := f.svc.DenyJoinRequest(ctx, "run-1", "host", "p2"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("second DenyJoinRequest() error = %v, want ErrRequestNotFound", err)
	}
}

// --- Squad invites ---

func TestInviteSquadSeatsUpToCapacity(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 3))
	f.squads.squads["squad-1"] = models.Squad{
		ID:        "squad-1",
		MemberIDs: []string{"s1", "s2", "s3", "s4"},
	}

	if err := f.svc.InviteSquadToRun(context.Background(), "run-1", "host", "squad-1"); err != nil {
		t.Fatalf("InviteSquadToRun() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.PlayerCount != 3 {
		t.Errorf("PlayerCount = %d, want 3 (capacity)", run.PlayerCount)
	}
	// Roster order: s1 and s2 get the two open spots, s3/s4 are dropped.
	if !run.IsMember("s1") || !run.IsMember("s2") || run.IsMember("s3") || run.IsMember("s4") {
		t.Errorf("unexpected seating: %v", run.PlayerIDs)
	}
}

func TestInviteSquadHostApprovalFilesRequests(t *testing.T) {
	f := newFixture()
	f.seedRun(t, hostApprovalRun("run-1", "host", 10))
	f.squads.squads["squad-1"] = models.Squad{
		ID:        "squad-1",
		MemberIDs: []string{"host", "s1", "s2"},
	}
	ctx := context.Background()

	if err := f.svc.InviteSquadToRun(ctx, "run-1", "host", "squad-1"); err != nil {
		t.Fatalf("InviteSquadToRun() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.PlayerCount != 1 {
		t.Errorf("host approval invite seated players directly: %+v", run)
	}
	if run.PendingJoinsCount != 2 {
		t.Errorf("PendingJoinsCount = %d, want 2", run.PendingJoinsCount)
	}
	for _, uid := range []string{"s1", "s2"} {
		if _, err := f.requests.GetPending(ctx, "run-1", uid); err != nil {
			t.Errorf("no pending request for %s: %v", uid, err)
		}
	}
}

func TestInviteSquadNotFound(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6))

	err := f.svc.InviteSquadToRun(context.Background(), "run-1", "host", "nope")
	if !errors.Is(err, ErrSquadNotFound) {
		t.Errorf("InviteSquadToRun() error = %v, want ErrSquadNotFound", err)
	}
}

// --- Lifecycle commands ---

func TestEndRun(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2"))
	ctx := context.Background()

	if err := f.svc.EndRun(ctx, "run-1", "host"); err != nil {
		t.Fatalf("EndRun() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.Status != models.RunStatusEnded || run.EndedAt == nil {
		t.Errorf("run not ended: %+v", run)
	}

	// Ending again is a no-op.
	if err := f.svc.EndRun(ctx, "run-1", "host"); err != nil {
		t.Errorf("second EndRun() error = %v, want nil", err)
	}
}

func TestCancelRunNotifiesMembers(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2", "p3"))

	if err := f.svc.CancelRun(context.Background(), "run-1", "host"); err != nil {
		t.Fatalf("CancelRun() error = %v", err)
	}
	run := f.mustGet(t, "run-1")
	if run.Status != models.RunStatusCancelled || run.EndedAt == nil || run.EndsAt == nil {
		t.Errorf("run not cancelled with terminal timestamps: %+v", run)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.events.events))
	}
	evt := f.events.events[0]
	if evt.Type != notify.EventRunCancelled || len(evt.Members) != 3 {
		t.Errorf("unexpected cancel event: %+v", evt)
	}
}

func TestCancelRunNonHostForbidden(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2"))

	if err := f.svc.CancelRun(context.Background(), "run-1", "p2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("CancelRun() by non-host error = %v, want ErrForbidden", err)
	}
}

func TestUpdateMaxPlayersBelowSeatedCount(t *testing.T) {
	f := newFixture()
	f.seedRun(t, activeRun("run-1", "host", 6, "host", "p2", "p3"))

	err := f.svc.UpdateMaxPlayers(context.Background(), "run-1", "host", 2)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateMaxPlayers() below seated count error = %v, want ErrInvalidArgument", err)
	}
	if err := f.svc.UpdateMaxPlayers(context.Background(), "run-1", "host", 10); err != nil {
		t.Fatalf("UpdateMaxPlayers() error = %v", err)
	}
	if f.mustGet(t, "run-1").MaxPlayers != 10 {
		t.Error("capacity not updated")
	}
}

func TestEditRunDetailsStartImmutableAfterStart(t *testing.T) {
	f := newFixture()
	started := time.Now().Add(-time.Hour)
	run := activeRun("run-1", "host", 6)
	run.StartsAt = &started
	f.seedRun(t, run)

	newStart := time.Now().Add(time.Hour)
	err := f.svc.EditRunDetails(context.Background(), "run-1", "host", RunDetailsPatch{StartsAt: &newStart})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("EditRunDetails() on started run error = %v, want ErrInvalidArgument", err)
	}
}

func TestEditRunDetailsReschedule(t *testing.T) {
	f := newFixture()
	start := time.Now().Add(time.Hour)
	run := activeRun("run-1", "host", 6)
	run.Status = models.RunStatusScheduled
	run.StartsAt = &start
	f.seedRun(t, run)

	newStart := time.Now().Add(3 * time.Hour)
	newEnd := time.Now().Add(5 * time.Hour)
	newMode := "5v5"
	err := f.svc.EditRunDetails(context.Background(), "run-1", "host", RunDetailsPatch{
		StartsAt: &newStart,
		EndsAt:   &newEnd,
		Mode:     &newMode,
	})
	if err != nil {
		t.Fatalf("EditRunDetails() error = %v", err)
	}
	got := f.mustGet(t, "run-1")
	if !got.StartsAt.Equal(newStart) || !got.EndsAt.Equal(newEnd) || got.Mode != "5v5" {
		t.Errorf("details not applied: %+v", got)
	}
}

// --- Allowed list ---

func TestAddAllowedUidsEmitsInvitees(t *testing.T) {
	f := newFixture()
	run := activeRun("run-1", "host", 6)
	run.Access = models.AccessInviteOnly
	run.AllowedUIDs = []string{"p2"}
	f.seedRun(t, run)

	err := f.svc.AddMemberToAllowedUids(context.Background(), "run-1", "host", []string{"p2", "p3", "p4"})
	if err != nil {
		t.Fatalf("AddMemberToAllowedUids() error = %v", err)
	}
	got := f.mustGet(t, "run-1")
	if !got.IsAllowed("p3") || !got.IsAllowed("p4") {
		t.Errorf("new uids not allowed: %v", got.AllowedUIDs)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.events.events))
	}
	evt := f.events.events[0]
	// p2 was already on the list, only the two newcomers are fanned out.
	if evt.Type != notify.EventInviteesAdded || len(evt.UserIDs) != 2 {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestRemoveAllowedUids(t *testing.T) {
	f := newFixture()
	run := activeRun("run-1", "host", 6)
	run.Access = models.AccessInviteOnly
	run.AllowedUIDs = []string{"p2", "p3"}
	f.seedRun(t, run)

	err := f.svc.RemoveMemberFromAllowedUids(context.Background(), "run-1", "host", []string{"p2", "p9"})
	if err != nil {
		t.Fatalf("RemoveMemberFromAllowedUids() error = %v", err)
	}
	got := f.mustGet(t, "run-1")
	if got.IsAllowed("p2") || !got.IsAllowed("p3") {
		t.Errorf("allowed list wrong after removal: %v", got.AllowedUIDs)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != notify.EventInviteesRemoved {
		t.Fatalf("expected one invitees_removed event, got %+v", f.events.events)
	}
	if len(f.events.events[0].UserIDs) != 1 || f.events.events[0].UserIDs[0] != "p2" {
		t.Errorf("event UserIDs = %v, want [p2]", f.events.events[0].UserIDs)
	}
}

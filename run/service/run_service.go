// run/service/run_service.go
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/courtside/run-service/run/notify"
	"github.com/courtside/run-service/shared/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo" // For checking specific MongoDB errors
)

// Custom Errors for clear communication to API layer
var (
	ErrRunNotFound        = fmt.Errorf("run not found")
	ErrRequestNotFound    = fmt.Errorf("join request not found")
	ErrSquadNotFound      = fmt.Errorf("squad not found")
	ErrRunClosed          = fmt.Errorf("run is not joinable")
	ErrRunFull            = fmt.Errorf("run is full")
	ErrForbidden          = fmt.Errorf("caller lacks required authority")
	ErrAlreadyRequested   = fmt.Errorf("join request already pending")
	ErrWrongAccessMode    = fmt.Errorf("operation invalid for run access mode")
	ErrHostSoloCannotLeave = fmt.Errorf("sole host cannot leave; end or cancel the run instead")
	ErrInvalidArgument    = fmt.Errorf("invalid argument")
)

// TxnRunner is the Entity Store's atomic read-modify-write primitive. fn is
// re-executed from its initial read on write conflict, so every command below
// resets its locals at the top of the callback.
type TxnRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunStore is the run document access the engine needs inside a transaction.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	InsertRun(ctx context.Context, run *models.Run) error
	ReplaceRun(ctx context.Context, run *models.Run) error
}

// JoinRequestStore is the join request access the engine needs. Join requests
// are only ever written in the same transaction as their parent run.
type JoinRequestStore interface {
	Insert(ctx context.Context, req *models.JoinRequest) error
	GetPending(ctx context.Context, runID, userID string) (*models.JoinRequest, error)
	Resolve(ctx context.Context, requestID string, status models.JoinRequestStatus, resolvedAt time.Time) error
	Delete(ctx context.Context, requestID string) error
}

// SquadStore is the read-only squad lookup for bulk invites.
type SquadStore interface {
	GetSquad(ctx context.Context, squadID string) (*models.Squad, error)
}

// RunService is the membership transaction engine: every command executes as
// a single all-or-nothing transaction against the run (and, where needed, a
// join request), then publishes the committed transition downstream.
type RunService struct {
	txn      TxnRunner
	runs     RunStore
	requests JoinRequestStore
	squads   SquadStore
	events   notify.Publisher
}

// NewRunService creates a new RunService instance.
func NewRunService(txn TxnRunner, runs RunStore, requests JoinRequestStore, squads SquadStore, events notify.Publisher) *RunService {
	return &RunService{
		txn:      txn,
		runs:     runs,
		requests: requests,
		squads:   squads,
		events:   events,
	}
}

// publish hands a committed transition to the dispatcher, if one is wired.
// Called only after a successful commit; never inside the transaction.
func (rs *RunService) publish(evts []notify.Event) {
	if rs.events == nil {
		return
	}
	for _, evt := range evts {
		rs.events.Publish(evt)
	}
}

// getRunForUpdate loads a run inside the transaction, mapping store-level
// absence to the service error.
func (rs *RunService) getRunForUpdate(ctx context.Context, runID string) (*models.Run, error) {
	run, err := rs.runs.GetRun(ctx, runID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// CreateRun creates a new run hosted by hostID at courtID. The host is seated
// immediately; the run starts active unless startsAt is in the future.
func (rs *RunService) CreateRun(ctx context.Context, courtID, hostID, mode string, maxPlayers int, access models.AccessMode, startsAt, endsAt *time.Time) (*models.Run, error) {
	if courtID == "" || hostID == "" {
		return nil, fmt.Errorf("%w: court id and host id are required", ErrInvalidArgument)
	}
	if !models.IsValidRunMode(mode) {
		return nil, fmt.Errorf("%w: unsupported run mode %q", ErrInvalidArgument, mode)
	}
	if maxPlayers < models.MinRunCapacity || maxPlayers > models.MaxRunCapacity {
		return nil, fmt.Errorf("%w: max players must be between %d and %d (got %d)",
			ErrInvalidArgument, models.MinRunCapacity, models.MaxRunCapacity, maxPlayers)
	}
	if access == "" {
		access = models.AccessOpen
	}
	if !models.IsValidAccessMode(access) {
		return nil, fmt.Errorf("%w: unsupported access mode %q", ErrInvalidArgument, access)
	}
	if startsAt != nil && endsAt != nil && !endsAt.After(*startsAt) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidArgument)
	}

	now := time.Now()
	status := models.RunStatusActive
	if startsAt != nil && startsAt.After(now) {
		status = models.RunStatusScheduled
	}

	run := &models.Run{
		ID:              uuid.New().String(),
		CourtID:         courtID,
		HostID:          hostID,
		Status:          status,
		Mode:            mode,
		MaxPlayers:      maxPlayers,
		PlayerIDs:       []string{hostID},
		PlayerCount:     1,
		Access:          access,
		StartsAt:        startsAt,
		EndsAt:          endsAt,
		LastHeartbeatAt: now,
		CreatedAt:       now,
	}

	if err := rs.runs.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("service failed to create run: %w", err)
	}
	log.Printf("INFO: Run %s created at court %s by host %s (%s, cap %d, %s).",
		run.ID, courtID, hostID, mode, maxPlayers, status)

	if status == models.RunStatusActive {
		rs.publish([]notify.Event{{Type: notify.EventRunActivated, Run: *run}})
	}
	return run, nil
}

// GetRun retrieves a run by id. Read-only; no transaction.
func (rs *RunService) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := rs.runs.GetRun(ctx, runID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("service failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// JoinRun seats uid in the run. Already-a-member is an idempotent no-op.
// HOST_APPROVAL and INVITE_ONLY runs only admit users on the allowed list;
// approval candidates go through RequestJoinRun instead.
func (rs *RunService) JoinRun(ctx context.Context, runID, uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	var evts []notify.Event
	err := rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		evts = nil
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if !run.IsJoinable() {
			return ErrRunClosed
		}
		if run.IsMember(uid) {
			return nil // Idempotent: duplicate client retries succeed unchanged.
		}
		switch run.Access {
		case models.AccessOpen:
			// Anyone may take an open spot.
		case models.AccessHostApproval:
			if !run.IsAllowed(uid) {
				return ErrWrongAccessMode // Must go through RequestJoinRun.
			}
		case models.AccessInviteOnly:
			if !run.IsAllowed(uid) {
				return ErrForbidden
			}
		default:
			return fmt.Errorf("%w: run %s has unknown access mode %q", ErrInvalidArgument, runID, run.Access)
		}
		if run.IsFull() {
			return ErrRunFull
		}

		openBefore := run.OpenSlots()
		run.PlayerIDs = append(run.PlayerIDs, uid)
		run.PlayerCount = len(run.PlayerIDs)
		run.LastHeartbeatAt = time.Now()
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		if run.Status == models.RunStatusActive {
			evts = append(evts, notify.Event{
				Type:       notify.EventSpotsChanged,
				Run:        *run,
				OpenBefore: openBefore,
				OpenAfter:  run.OpenSlots(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

// LeaveRun removes uid from the run. Not-a-member is an idempotent no-op.
// A departing host hands authority to the first remaining member in seat
// order; the sole remaining host must end or cancel instead of leaving.
func (rs *RunService) LeaveRun(ctx context.Context, runID, uid string) error {
	var evts []notify.Event
	err := rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		evts = nil
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.IsTerminal() {
			return ErrRunClosed
		}
		if !run.IsMember(uid) {
			return nil // Idempotent: already gone.
		}
		if run.IsHost(uid) && run.PlayerCount == 1 {
			return ErrHostSoloCannotLeave
		}

		openBefore := run.OpenSlots()
		run.PlayerIDs = removeID(run.PlayerIDs, uid)
		run.PlayerCount = len(run.PlayerIDs)
		if run.IsHost(uid) {
			// Deterministic succession: first remaining member in seat order.
			run.HostID = run.PlayerIDs[0]
			log.Printf("INFO: Run %s host %s left; host transferred to %s.", runID, uid, run.HostID)
		}
		run.LastHeartbeatAt = time.Now()
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		if run.Status == models.RunStatusActive {
			evts = append(evts, notify.Event{
				Type:       notify.EventSpotsChanged,
				Run:        *run,
				OpenBefore: openBefore,
				OpenAfter:  run.OpenSlots(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

// KickPlayer removes targetUid from the run. Host-only; the host cannot be
// kicked. Target-not-a-member is an idempotent no-op.
func (rs *RunService) KickPlayer(ctx context.Context, runID, requesterUID, targetUID string) error {
	var evts []notify.Event
	err := rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		evts = nil
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.IsTerminal() {
			return ErrRunClosed
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		if run.IsHost(targetUID) {
			return ErrForbidden // The host cannot be kicked via this path.
		}
		if !run.IsMember(targetUID) {
			return nil // Idempotent: already gone.
		}

		openBefore := run.OpenSlots()
		run.PlayerIDs = removeID(run.PlayerIDs, targetUID)
		run.PlayerCount = len(run.PlayerIDs)
		run.LastHeartbeatAt = time.Now()
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		if run.Status == models.RunStatusActive {
			evts = append(evts, notify.Event{
				Type:       notify.EventSpotsChanged,
				Run:        *run,
				OpenBefore: openBefore,
				OpenAfter:  run.OpenSlots(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

// EndRun transitions an active run to ended. Host-only; a run that is not
// active (scheduled or already terminal) is left untouched.
func (rs *RunService) EndRun(ctx context.Context, runID, requesterUID string) error {
	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		if run.Status != models.RunStatusActive {
			return nil // No-op: nothing to end.
		}

		now := time.Now()
		run.Status = models.RunStatusEnded
		run.EndedAt = &now
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		log.Printf("INFO: Run %s ended by host %s.", runID, requesterUID)
		return nil
	})
}

// CancelRun transitions an active or scheduled run to cancelled and notifies
// every member. Host-only; already-terminal is an idempotent no-op.
func (rs *RunService) CancelRun(ctx context.Context, runID, requesterUID string) error {
	var evts []notify.Event
	err := rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		evts = nil
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		if run.IsTerminal() {
			return nil // Idempotent: already final.
		}

		now := time.Now()
		members := append([]string(nil), run.PlayerIDs...)
		run.Status = models.RunStatusCancelled
		run.EndedAt = &now
		// The retention purge keys cancelled runs on ends_at.
		run.EndsAt = &now
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		evts = append(evts, notify.Event{
			Type:    notify.EventRunCancelled,
			Run:     *run,
			Members: members,
		})
		log.Printf("INFO: Run %s cancelled by host %s (%d members notified).", runID, requesterUID, len(members))
		return nil
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

// UpdateMaxPlayers changes the run's capacity. Host-only; the new cap must be
// within bounds and must not drop below the current seated count.
func (rs *RunService) UpdateMaxPlayers(ctx context.Context, runID, requesterUID string, maxPlayers int) error {
	if maxPlayers < models.MinRunCapacity || maxPlayers > models.MaxRunCapacity {
		return fmt.Errorf("%w: max players must be between %d and %d (got %d)",
			ErrInvalidArgument, models.MinRunCapacity, models.MaxRunCapacity, maxPlayers)
	}
	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.IsTerminal() {
			return ErrRunClosed
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		if maxPlayers < run.PlayerCount {
			return fmt.Errorf("%w: new capacity %d is below current player count %d",
				ErrInvalidArgument, maxPlayers, run.PlayerCount)
		}
		run.MaxPlayers = maxPlayers
		return rs.runs.ReplaceRun(ctx, run)
	})
}

// UpdateMode changes the run's format label. Host-only.
func (rs *RunService) UpdateMode(ctx context.Context, runID, requesterUID, mode string) error {
	if !models.IsValidRunMode(mode) {
		return fmt.Errorf("%w: unsupported run mode %q", ErrInvalidArgument, mode)
	}
	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.IsTerminal() {
			return ErrRunClosed
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		run.Mode = mode
		return rs.runs.ReplaceRun(ctx, run)
	})
}

// RunDetailsPatch carries the optional fields EditRunDetails may change.
// Nil fields are left untouched.
type RunDetailsPatch struct {
	StartsAt   *time.Time
	EndsAt     *time.Time
	Mode       *string
	MaxPlayers *int
}

// EditRunDetails applies a partial edit to the run's schedule and format.
// Host-only. The start time is immutable once the run's start instant has
// passed; the end time must stay after the start and, on an active run,
// after now.
func (rs *RunService) EditRunDetails(ctx context.Context, runID, requesterUID string, patch RunDetailsPatch) error {
	if patch.Mode != nil && !models.IsValidRunMode(*patch.Mode) {
		return fmt.Errorf("%w: unsupported run mode %q", ErrInvalidArgument, *patch.Mode)
	}
	if patch.MaxPlayers != nil && (*patch.MaxPlayers < models.MinRunCapacity || *patch.MaxPlayers > models.MaxRunCapacity) {
		return fmt.Errorf("%w: max players must be between %d and %d (got %d)",
			ErrInvalidArgument, models.MinRunCapacity, models.MaxRunCapacity, *patch.MaxPlayers)
	}

	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.IsTerminal() {
			return ErrRunClosed
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}

		now := time.Now()
		if patch.StartsAt != nil {
			if run.StartsAt != nil && !run.StartsAt.After(now) {
				return fmt.Errorf("%w: start time is immutable once the run has started", ErrInvalidArgument)
			}
			run.StartsAt = patch.StartsAt
		}
		if patch.EndsAt != nil {
			if run.StartsAt != nil && !patch.EndsAt.After(*run.StartsAt) {
				return fmt.Errorf("%w: end time must be after start time", ErrInvalidArgument)
			}
			if run.Status == models.RunStatusActive && !patch.EndsAt.After(now) {
				return fmt.Errorf("%w: end time must be in the future for an active run", ErrInvalidArgument)
			}
			run.EndsAt = patch.EndsAt
		}
		if patch.Mode != nil {
			run.Mode = *patch.Mode
		}
		if patch.MaxPlayers != nil {
			if *patch.MaxPlayers < run.PlayerCount {
				return fmt.Errorf("%w: new capacity %d is below current player count %d",
					ErrInvalidArgument, *patch.MaxPlayers, run.PlayerCount)
			}
			run.MaxPlayers = *patch.MaxPlayers
		}
		return rs.runs.ReplaceRun(ctx, run)
	})
}

// removeID returns ids without uid, preserving order.
func removeID(ids []string, uid string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != uid {
			out = append(out, id)
		}
	}
	return out
}

// run/service/requests.go
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/courtside/run-service/run/notify"
	"github.com/courtside/run-service/shared/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// RequestJoinRun files a pending join request for uid on a HOST_APPROVAL run.
// Already-a-member is an idempotent no-op; a second request while one is
// pending is rejected.
func (rs *RunService) RequestJoinRun(ctx context.Context, runID, uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if !run.IsJoinable() {
			return ErrRunClosed
		}
		if run.Access != models.AccessHostApproval {
			return ErrWrongAccessMode
		}
		if run.IsMember(uid) {
			return nil // Idempotent: already seated, nothing to request.
		}
		_, err = rs.requests.GetPending(ctx, runID, uid)
		if err == nil {
			return ErrAlreadyRequested
		}
		if err != mongo.ErrNoDocuments {
			return fmt.Errorf("failed to check pending request for run %s user %s: %w", runID, uid, err)
		}

		req := &models.JoinRequest{
			ID:        uuid.New().String(),
			RunID:     runID,
			UserID:    uid,
			Status:    models.JoinRequestPending,
			CreatedAt: time.Now(),
		}
		if err := rs.requests.Insert(ctx, req); err != nil {
			return err
		}
		run.PendingJoinsCount++
		return rs.runs.ReplaceRun(ctx, run)
	})
}

// CancelJoinRequest withdraws uid's pending request. No pending request is an
// idempotent no-op; the run counter never goes below zero.
func (rs *RunService) CancelJoinRequest(ctx context.Context, runID, uid string) error {
	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		req, err := rs.requests.GetPending(ctx, runID, uid)
		if err == mongo.ErrNoDocuments {
			return nil // Idempotent: nothing pending.
		}
		if err != nil {
			return fmt.Errorf("failed to load pending request for run %s user %s: %w", runID, uid, err)
		}
		if err := rs.requests.Delete(ctx, req.ID); err != nil {
			return err
		}
		if run.PendingJoinsCount > 0 {
			run.PendingJoinsCount--
		}
		return rs.runs.ReplaceRun(ctx, run)
	})
}

// ApproveJoinRequest resolves uid's pending request. Host-only. When the run
// has an open spot the requester is seated and the request marked approved;
// when the run filled up in the meantime the request is resolved as denied in
// the same transaction, so it never dangles against a full run.
func (rs *RunService) ApproveJoinRequest(ctx context.Context, runID, requesterUID, uid string) error {
	var evts []notify.Event
	seated := false
	err := rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		evts = nil
		seated = false
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
		req, err := rs.requests.GetPending(ctx, runID, uid)
		if err == mongo.ErrNoDocuments {
			return ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load pending request for run %s user %s: %w", runID, uid, err)
		}

		now := time.Now()
		status := models.JoinRequestApproved
		if run.IsMember(uid) {
			// Seated through another path while the request was pending.
		} else if run.IsFull() {
			status = models.JoinRequestDenied
		} else {
			openBefore := run.OpenSlots()
			run.PlayerIDs = append(run.PlayerIDs, uid)
			run.PlayerCount = len(run.PlayerIDs)
			run.LastHeartbeatAt = now
			seated = true
			if run.Status == models.RunStatusActive {
				evts = append(evts, notify.Event{
					Type:       notify.EventSpotsChanged,
					Run:        *run,
					OpenBefore: openBefore,
					OpenAfter:  run.OpenSlots(),
				})
			}
		}
		if err := rs.requests.Resolve(ctx, req.ID, status, now); err != nil {
			return err
		}
		if run.PendingJoinsCount > 0 {
			run.PendingJoinsCount--
		}
		return rs.runs.ReplaceRun(ctx, run)
	})
	if err != nil {
		return err
	}
	if !seated {
		log.Printf("INFO: Join request for run %s user %s resolved without seating.", runID, uid)
	}
	rs.publish(evts)
	return nil
}

// DenyJoinRequest resolves uid's pending request as denied. Host-only.
func (rs *RunService) DenyJoinRequest(ctx context.Context, runID, requesterUID, uid string) error {
	return rs.txn.WithTransaction(ctx, func(ctx context.Context) error {
		run, err := rs.getRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		req, err := rs.requests.GetPending(ctx, runID, uid)
		if err == mongo.ErrNoDocuments {
			return ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load pending request for run %s user %s: %w", runID, uid, err)
		}
		if err := rs.requests.Resolve(ctx, req.ID, models.JoinRequestDenied, time.Now()); err != nil {
			return err
		}
		if run.PendingJoinsCount > 0 {
			run.PendingJoinsCount--
		}
		return rs.runs.ReplaceRun(ctx, run)
	})
}

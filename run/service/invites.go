// run/service/invites.go
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

// InviteSquadToRun fans a whole squad into the run in one transaction.
// Host-only. Squad members already seated are skipped. On an OPEN or
// INVITE_ONLY run the newcomers are seated directly in squad roster order
// until the run is full; overflow is dropped silently. On a HOST_APPROVAL
// run each newcomer gets a pending join request instead of a seat.
func (rs *RunService) InviteSquadToRun(ctx context.Context, runID, requesterUID, squadID string) error {
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
		if !run.IsHost(requesterUID) {
			return ErrForbidden
		}
		squad, err := rs.squads.GetSquad(ctx, squadID)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				return ErrSquadNotFound
			}
			return fmt.Errorf("failed to load squad %s: %w", squadID, err)
		}

		var newcomers []string
		for _, uid := range squad.MemberIDs {
			if !run.IsMember(uid) {
				newcomers = append(newcomers, uid)
			}
		}
		if len(newcomers) == 0 {
			return nil // Whole squad already seated.
		}

		now := time.Now()
		switch run.Access {
		case models.AccessHostApproval:
			filed := 0
			for _, uid := range newcomers {
				_, err := rs.requests.GetPending(ctx, runID, uid)
				if err == nil {
					continue // A request is already pending for this member.
				}
				if err != mongo.ErrNoDocuments {
					return fmt.Errorf("failed to check pending request for run %s user %s: %w", runID, uid, err)
				}
				req := &models.JoinRequest{
					ID:        uuid.New().String(),
					RunID:     runID,
					UserID:    uid,
					Status:    models.JoinRequestPending,
					CreatedAt: now,
				}
				if err := rs.requests.Insert(ctx, req); err != nil {
					return err
				}
				run.PendingJoinsCount++
				filed++
			}
			if filed == 0 {
				return nil
			}
			log.Printf("INFO: Squad %s invited to run %s: %d join requests filed.", squadID, runID, filed)

		case models.AccessOpen, models.AccessInviteOnly:
			openBefore := run.OpenSlots()
			seatedCount := 0
			for _, uid := range newcomers {
				if run.IsFull() {
					break // Overflow beyond capacity is dropped.
				}
				run.PlayerIDs = append(run.PlayerIDs, uid)
				run.PlayerCount = len(run.PlayerIDs)
				seatedCount++
			}
			if seatedCount == 0 {
				return nil
			}
			run.LastHeartbeatAt = now
			if run.Status == models.RunStatusActive {
				evts = append(evts, notify.Event{
					Type:       notify.EventSpotsChanged,
					Run:        *run,
					OpenBefore: openBefore,
					OpenAfter:  run.OpenSlots(),
				})
			}
			log.Printf("INFO: Squad %s invited to run %s: %d of %d members seated.",
				squadID, runID, seatedCount, len(newcomers))

		default:
			return nil
		}
		return rs.runs.ReplaceRun(ctx, run)
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

// AddMemberToAllowedUids adds uids to the run's allowed list. Host-only.
// Already-allowed uids are skipped; newly allowed users receive a durable
// invite via the dispatcher.
func (rs *RunService) AddMemberToAllowedUids(ctx context.Context, runID, requesterUID string, uids []string) error {
	if len(uids) == 0 {
		return fmt.Errorf("%w: at least one user id is required", ErrInvalidArgument)
	}
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

		var added []string
		for _, uid := range uids {
			if uid == "" || run.IsAllowed(uid) {
				continue
			}
			run.AllowedUIDs = append(run.AllowedUIDs, uid)
			added = append(added, uid)
		}
		if len(added) == 0 {
			return nil
		}
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		evts = append(evts, notify.Event{
			Type:    notify.EventInviteesAdded,
			Run:     *run,
			UserIDs: added,
		})
		return nil
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

// RemoveMemberFromAllowedUids removes uids from the run's allowed list.
// Host-only. Removal revokes future join eligibility but does not unseat
// anyone already in the run.
func (rs *RunService) RemoveMemberFromAllowedUids(ctx context.Context, runID, requesterUID string, uids []string) error {
	if len(uids) == 0 {
		return fmt.Errorf("%w: at least one user id is required", ErrInvalidArgument)
	}
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

		var removed []string
		for _, uid := range uids {
			if !run.IsAllowed(uid) {
				continue
			}
			run.AllowedUIDs = removeID(run.AllowedUIDs, uid)
			removed = append(removed, uid)
		}
		if len(removed) == 0 {
			return nil
		}
		if err := rs.runs.ReplaceRun(ctx, run); err != nil {
			return err
		}
		evts = append(evts, notify.Event{
			Type:    notify.EventInviteesRemoved,
			Run:     *run,
			UserIDs: removed,
		})
		return nil
	})
	if err != nil {
		return err
	}
	rs.publish(evts)
	return nil
}

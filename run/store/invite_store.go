// run/store/invite_store.go
package store

import (
	"context"
	"fmt"

	"github.com/courtside/run-service/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InviteStore represents the MongoDB data store for run invite documents.
// Invites are keyed deterministically by (runId, userId), which makes the
// fan-out idempotent: re-adding a user upserts the same document.
type InviteStore struct {
	collection *mongo.Collection
}

// NewInviteStore creates a new InviteStore instance.
func NewInviteStore(collection *mongo.Collection) *InviteStore {
	return &InviteStore{
		collection: collection,
	}
}

// Upsert creates the invite document if it does not already exist and reports
// whether this call created it. An existing invite is left untouched so its
// one-time notification never fires twice.
func (is *InviteStore) Upsert(ctx context.Context, invite *models.RunInvite) (bool, error) {
	filter := bson.M{"_id": invite.ID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"run_id":     invite.RunID,
			"user_id":    invite.UserID,
			"status":     invite.Status,
			"created_at": invite.CreatedAt,
		},
	}
	opts := options.Update().SetUpsert(true)

	res, err := is.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return false, fmt.Errorf("failed to upsert run invite %s: %w", invite.ID, err)
	}
	return res.UpsertedID != nil, nil
}

// Delete removes the invite for a (run, user) pair. Missing documents are fine.
func (is *InviteStore) Delete(ctx context.Context, runID, userID string) error {
	_, err := is.collection.DeleteOne(ctx, bson.M{"_id": models.RunInviteID(runID, userID)})
	if err != nil {
		return fmt.Errorf("failed to delete run invite for run %s user %s: %w", runID, userID, err)
	}
	return nil
}

// ListForUser retrieves a user's invites, newest first. Backs the invite inbox.
func (is *InviteStore) ListForUser(ctx context.Context, userID string) ([]models.RunInvite, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := is.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find invites for user %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var invites []models.RunInvite
	if err = cursor.All(ctx, &invites); err != nil {
		return nil, fmt.Errorf("failed to decode invites for user %s: %w", userID, err)
	}
	return invites, nil
}

// DeleteByRunIDs removes every invite belonging to the given runs.
// Used by the retention purge alongside run deletion.
func (is *InviteStore) DeleteByRunIDs(ctx context.Context, runIDs []string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	res, err := is.collection.DeleteMany(ctx, bson.M{"run_id": bson.M{"$in": runIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete invites for purged runs: %w", err)
	}
	return res.DeletedCount, nil
}

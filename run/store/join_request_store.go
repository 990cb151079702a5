// run/store/join_request_store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/courtside/run-service/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// JoinRequestStore represents the MongoDB data store for join request documents.
// Join requests are always written in the same transaction as their parent
// run's pending_joins_count, never independently.
type JoinRequestStore struct {
	collection *mongo.Collection
}

// NewJoinRequestStore creates a new JoinRequestStore instance.
func NewJoinRequestStore(collection *mongo.Collection) *JoinRequestStore {
	return &JoinRequestStore{
		collection: collection,
	}
}

// Insert inserts a new join request document.
func (js *JoinRequestStore) Insert(ctx context.Context, req *models.JoinRequest) error {
	_, err := js.collection.InsertOne(ctx, req)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("join request %s already exists", req.ID)
		}
		return fmt.Errorf("failed to insert join request %s: %w", req.ID, err)
	}
	return nil
}

// GetPending retrieves the pending join request for a (run, user) pair.
func (js *JoinRequestStore) GetPending(ctx context.Context, runID, userID string) (*models.JoinRequest, error) {
	var req models.JoinRequest
	filter := bson.M{"run_id": runID, "user_id": userID, "status": models.JoinRequestPending}
	err := js.collection.FindOne(ctx, filter).Decode(&req)
	if err != nil {
		return nil, err // Return mongo.ErrNoDocuments if not found
	}
	return &req, nil
}

// ListPendingForRun retrieves all pending join requests for a run.
func (js *JoinRequestStore) ListPendingForRun(ctx context.Context, runID string) ([]models.JoinRequest, error) {
	filter := bson.M{"run_id": runID, "status": models.JoinRequestPending}
	cursor, err := js.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending join requests for run %s: %w", runID, err)
	}
	defer cursor.Close(ctx)

	var reqs []models.JoinRequest
	if err = cursor.All(ctx, &reqs); err != nil {
		return nil, fmt.Errorf("failed to decode pending join requests for run %s: %w", runID, err)
	}
	return reqs, nil
}

// Resolve marks a join request approved or denied and stamps the resolution time.
func (js *JoinRequestStore) Resolve(ctx context.Context, requestID string, status models.JoinRequestStatus, resolvedAt time.Time) error {
	filter := bson.M{"_id": requestID}
	update := bson.M{"$set": bson.M{"status": status, "resolved_at": resolvedAt}}
	res, err := js.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to resolve join request %s: %w", requestID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("join request %s not found for resolve", requestID)
	}
	return nil
}

// Delete removes a join request document (requester-cancelled).
func (js *JoinRequestStore) Delete(ctx context.Context, requestID string) error {
	_, err := js.collection.DeleteOne(ctx, bson.M{"_id": requestID})
	if err != nil {
		return fmt.Errorf("failed to delete join request %s: %w", requestID, err)
	}
	return nil
}

// DeleteByRunIDs removes every join request belonging to the given runs.
// Used by the retention purge alongside run deletion.
func (js *JoinRequestStore) DeleteByRunIDs(ctx context.Context, runIDs []string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	res, err := js.collection.DeleteMany(ctx, bson.M{"run_id": bson.M{"$in": runIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete join requests for purged runs: %w", err)
	}
	return res.DeletedCount, nil
}

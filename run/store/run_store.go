// run/store/run_store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/courtside/run-service/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RunStore represents the MongoDB data store for run documents.
// Membership-affecting writes go through ReplaceRun inside the service's
// transaction boundary; the sweep methods below are standalone conditional
// updates that are safe to re-run.
type RunStore struct {
	collection *mongo.Collection
}

// NewRunStore creates a new RunStore instance.
func NewRunStore(collection *mongo.Collection) *RunStore {
	return &RunStore{
		collection: collection,
	}
}

// InsertRun inserts a new run document into the collection.
func (rs *RunStore) InsertRun(ctx context.Context, run *models.Run) error {
	_, err := rs.collection.InsertOne(ctx, run)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("run %s already exists", run.ID)
		}
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by its id.
func (rs *RunStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var run models.Run
	filter := bson.M{"_id": runID}
	err := rs.collection.FindOne(ctx, filter).Decode(&run)
	if err != nil {
		return nil, err // Return mongo.ErrNoDocuments if not found
	}
	return &run, nil
}

// ReplaceRun overwrites the full run document. Inside a transaction the
// replace is conditioned on the snapshot read, which is what keeps concurrent
// membership writes from clobbering each other.
func (rs *RunStore) ReplaceRun(ctx context.Context, run *models.Run) error {
	filter := bson.M{"_id": run.ID}
	res, err := rs.collection.ReplaceOne(ctx, filter, run)
	if err != nil {
		return fmt.Errorf("failed to replace run %s: %w", run.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("run %s not found for replace", run.ID)
	}
	return nil
}

// ActivateDue transitions scheduled runs whose start time has arrived to
// active, one conditional update per run, and returns the runs it activated.
// A run activated by a concurrent sweep is skipped (ModifiedCount 0).
func (rs *RunStore) ActivateDue(ctx context.Context, now time.Time) ([]models.Run, error) {
	filter := bson.M{
		"status":    models.RunStatusScheduled,
		"starts_at": bson.M{"$lte": now},
	}
	cursor, err := rs.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled runs due for activation: %w", err)
	}
	defer cursor.Close(ctx)

	var due []models.Run
	if err = cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("failed to decode runs due for activation: %w", err)
	}

	var activated []models.Run
	for i := range due {
		run := due[i]
		res, err := rs.collection.UpdateOne(ctx,
			bson.M{"_id": run.ID, "status": models.RunStatusScheduled},
			bson.M{"$set": bson.M{"status": models.RunStatusActive, "last_heartbeat_at": now}},
		)
		if err != nil {
			return activated, fmt.Errorf("failed to activate run %s: %w", run.ID, err)
		}
		if res.ModifiedCount == 0 {
			continue // Raced with another sweep or a host cancel; nothing to emit.
		}
		run.Status = models.RunStatusActive
		run.LastHeartbeatAt = now
		activated = append(activated, run)
	}
	return activated, nil
}

// ExpireStale ends every active run whose last membership write is older than
// cutoff. The filter includes the pre-sweep status, so re-running the sweep
// (or running it concurrently) matches nothing the second time.
func (rs *RunStore) ExpireStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	filter := bson.M{
		"status":            models.RunStatusActive,
		"last_heartbeat_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{"$set": bson.M{"status": models.RunStatusEnded, "ended_at": now}}
	res, err := rs.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale runs: %w", err)
	}
	return res.ModifiedCount, nil
}

// FindDueForReminder returns joinable runs starting within (now, deadline]
// that have not yet been flagged for the given reminder window field.
func (rs *RunStore) FindDueForReminder(ctx context.Context, flagField string, now, deadline time.Time) ([]models.Run, error) {
	filter := bson.M{
		"status":    bson.M{"$in": []models.RunStatus{models.RunStatusScheduled, models.RunStatusActive}},
		"starts_at": bson.M{"$gt": now, "$lte": deadline},
		flagField:   false,
	}
	cursor, err := rs.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find runs due for %s reminder: %w", flagField, err)
	}
	defer cursor.Close(ctx)

	var runs []models.Run
	if err = cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode runs due for %s reminder: %w", flagField, err)
	}
	return runs, nil
}

// MarkReminded sets a run's per-window reminder flag. It reports whether this
// caller actually flipped the flag; a false return means another sweep got
// there first and the reminder must not be sent again.
func (rs *RunStore) MarkReminded(ctx context.Context, runID, flagField string) (bool, error) {
	res, err := rs.collection.UpdateOne(ctx,
		bson.M{"_id": runID, flagField: false},
		bson.M{"$set": bson.M{flagField: true}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark run %s reminded (%s): %w", runID, flagField, err)
	}
	return res.ModifiedCount > 0, nil
}

// MarkSpotsAlerted stamps the run's last open-spot alert time, but only when
// the previous alert is older than cooldownCutoff (or absent). It reports
// whether this caller owns the alert.
func (rs *RunStore) MarkSpotsAlerted(ctx context.Context, runID string, now, cooldownCutoff time.Time) (bool, error) {
	filter := bson.M{
		"_id": runID,
		"$or": []bson.M{
			{"last_spots_alert_at": bson.M{"$exists": false}},
			{"last_spots_alert_at": nil},
			{"last_spots_alert_at": bson.M{"$lt": cooldownCutoff}},
		},
	}
	update := bson.M{"$set": bson.M{"last_spots_alert_at": now}}
	res, err := rs.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark spots alert for run %s: %w", runID, err)
	}
	return res.ModifiedCount > 0, nil
}

// FindPurgeable returns the ids of up to limit terminal runs whose terminal
// timestamp (ended_at for ended, ends_at for cancelled) is older than cutoff.
func (rs *RunStore) FindPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"status": models.RunStatusEnded, "ended_at": bson.M{"$lt": cutoff}},
			{"status": models.RunStatusCancelled, "ends_at": bson.M{"$lt": cutoff}},
		},
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})
	cursor, err := rs.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find purgeable runs: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode purgeable run id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error during purgeable run cursor iteration: %w", err)
	}
	return ids, nil
}

// DeleteRunsByIDs hard-deletes the given run documents.
func (rs *RunStore) DeleteRunsByIDs(ctx context.Context, runIDs []string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	res, err := rs.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": runIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.DeletedCount, nil
}

// run/store/court_store.go
package store

import (
	"context"
	"fmt"

	"github.com/courtside/run-service/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// FallbackCourtName is used in notification text when a court document is
// missing or unreadable.
const FallbackCourtName = "the court"

// CourtStore represents the MongoDB data store for court documents.
// Courts are owned by another service; only the display name is read here.
type CourtStore struct {
	collection *mongo.Collection
}

// NewCourtStore creates a new CourtStore instance.
func NewCourtStore(collection *mongo.Collection) *CourtStore {
	return &CourtStore{
		collection: collection,
	}
}

// GetCourtName retrieves a court's display name, falling back to a generic
// label when the court does not exist. Absence is tolerated by design.
func (cs *CourtStore) GetCourtName(ctx context.Context, courtID string) (string, error) {
	var court models.Court
	filter := bson.M{"_id": courtID}
	err := cs.collection.FindOne(ctx, filter).Decode(&court)
	if err == mongo.ErrNoDocuments {
		return FallbackCourtName, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get court %s: %w", courtID, err)
	}
	if court.Name == "" {
		return FallbackCourtName, nil
	}
	return court.Name, nil
}

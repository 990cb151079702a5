// run/store/squad_store.go
package store

import (
	"context"

	"github.com/courtside/run-service/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// SquadStore represents the MongoDB data store for squad documents.
// The run service only reads squads, as input to the bulk-invite command.
type SquadStore struct {
	collection *mongo.Collection
}

// NewSquadStore creates a new SquadStore instance.
func NewSquadStore(collection *mongo.Collection) *SquadStore {
	return &SquadStore{
		collection: collection,
	}
}

// GetSquad retrieves a squad by its id.
func (ss *SquadStore) GetSquad(ctx context.Context, squadID string) (*models.Squad, error) {
	var squad models.Squad
	filter := bson.M{"_id": squadID}
	err := ss.collection.FindOne(ctx, filter).Decode(&squad)
	if err != nil {
		return nil, err // Return mongo.ErrNoDocuments if not found
	}
	return &squad, nil
}

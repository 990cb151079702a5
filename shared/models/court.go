// shared/models/court.go
package models

import "time"

// Court is a read-only reference entity from the run service's perspective.
// Only the display name is consumed, for notification text.
type Court struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Address   string    `bson:"address,omitempty" json:"address,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// shared/models/squad.go
package models

import "time"

// Squad is a reusable named group of users a host can bulk-invite into a run.
// It is an input to the invite command only; run invariants never read it.
type Squad struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	OwnerID   string    `bson:"owner_id" json:"ownerId"`
	MemberIDs []string  `bson:"member_ids" json:"memberIds"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

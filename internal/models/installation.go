package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InstallationEntry is the registry record of one GitHub App installation.
// Only the timestamp fields are ever updated after insert.
type InstallationEntry struct {
	ID primitive.ObjectID `json:"id" bson:"_id,omitempty"`

	InstallationID int64 `json:"installation_id" bson:"installation_id"`

	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt *time.Time `json:"updated_at" bson:"updated_at"`
	ProbedAt  *time.Time `json:"probed_at" bson:"probed_at"`
	DeletedAt *time.Time `json:"deleted_at" bson:"deleted_at"`
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CommentEntry records one issue_comment delivery. Entries are append-only:
// the same comment id appears once per event received for it.
type CommentEntry struct {
	ID primitive.ObjectID `json:"id" bson:"_id,omitempty"`

	IssueID   string    `json:"issue_id" bson:"issue_id"`
	CommentID string    `json:"comment_id" bson:"comment_id"`
	Action    string    `json:"action" bson:"action"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	ByLogin   string    `json:"by_login" bson:"by_login"`

	Comment    bson.M `json:"comment" bson:"comment"`
	Repository bson.M `json:"repository" bson:"repository"`
}

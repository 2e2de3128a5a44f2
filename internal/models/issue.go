package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IssueEntry caches a GitHub issue for one installation. It is fetched once
// and never refreshed.
type IssueEntry struct {
	ID primitive.ObjectID `json:"id" bson:"_id,omitempty"`

	IssueID     string    `json:"issue_id" bson:"issue_id"`
	RepoOwner   string    `json:"repo_owner" bson:"repo_owner"`
	RepoName    string    `json:"repo_name" bson:"repo_name"`
	IssueNumber int       `json:"issue_number" bson:"issue_number"`
	FetchedAt   time.Time `json:"fetched_at" bson:"fetched_at"`

	Events    []string `json:"events" bson:"events"`
	Labels    []string `json:"labels" bson:"labels"`
	Milestone bson.M   `json:"milestone,omitempty" bson:"milestone,omitempty"`
	State     string   `json:"state" bson:"state"`

	// Instance is the issue exactly as returned by the REST API.
	Instance bson.M `json:"instance" bson:"instance"`
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"insights/internal/db"
	"insights/internal/gh"
	"insights/internal/installations"
	"insights/internal/models"

	"github.com/google/go-github/v63/github"
	"go.mongodb.org/mongo-driver/bson"
)

// IssueComment stores the comment and, the first time its issue is seen,
// fetches and caches the issue. Every delivery adds a comment entry, edits
// and deletions included.
func (h *Handlers) IssueComment(ctx context.Context, inst *installations.Installation, event *github.IssueCommentEvent) error {
	comment := event.GetComment()
	issue := event.GetIssue()
	repo := event.GetRepo()

	h.logger.DebugContext(ctx, "issue comment",
		"installation_id", inst.ID,
		"action", event.GetAction(),
		"comment_id", comment.GetNodeID(),
	)

	commentDoc, err := document(comment)
	if err != nil {
		return err
	}
	repoDoc, err := document(repo)
	if err != nil {
		return err
	}

	entry := models.CommentEntry{
		IssueID:    issue.GetNodeID(),
		CommentID:  comment.GetNodeID(),
		Action:     event.GetAction(),
		UpdatedAt:  comment.GetUpdatedAt().Time,
		ByLogin:    comment.GetUser().GetLogin(),
		Comment:    commentDoc,
		Repository: repoDoc,
	}

	newID, err := inst.Comments().InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("insert comment %s: %w", entry.CommentID, err)
	}
	h.logger.DebugContext(ctx, "inserted comment entry",
		"comment_id", entry.CommentID,
		"issue_id", entry.IssueID,
		"entry_id", newID,
	)

	return h.maybeAddIssue(ctx, inst,
		repo.GetOwner().GetLogin(),
		repo.GetName(),
		issue.GetNumber(),
		issue.GetNodeID(),
	)
}

func (h *Handlers) maybeAddIssue(ctx context.Context, inst *installations.Installation, owner, repo string, number int, issueID string) error {
	if issueID != "" {
		known, err := db.Exists(ctx, inst.Issues(), bson.M{"issue_id": issueID})
		if err != nil {
			return fmt.Errorf("look up issue %s: %w", issueID, err)
		}
		if known {
			return nil
		}
	}

	resp, err := h.github.FetchIssue(ctx, inst.ID, owner, repo, number)
	h.logREST(ctx, gh.CallFetchIssue, resp, err)
	if err != nil {
		h.logger.WarnContext(ctx, "could not fetch issue",
			"installation_id", inst.ID,
			"repo", owner+"/"+repo,
			"number", number,
			"error", err,
		)
		return nil
	}

	entry, err := h.issueEntry(owner, repo, number, issueID, resp.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "unusable issue response",
			"installation_id", inst.ID,
			"repo", owner+"/"+repo,
			"number", number,
			"error", err,
		)
		return nil
	}

	newID, err := inst.Issues().InsertOne(ctx, entry)
	if errors.Is(err, db.ErrDuplicateKey) {
		// Another delivery cached the issue first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert issue %s: %w", entry.IssueID, err)
	}

	h.logger.DebugContext(ctx, "inserted issue entry",
		"issue_id", entry.IssueID,
		"entry_id", newID,
	)

	return nil
}

// fetchedIssue is the part of the REST issue representation that is read
// rather than stored verbatim.
type fetchedIssue struct {
	NodeID    string          `json:"node_id"`
	Number    int             `json:"number"`
	State     string          `json:"state"`
	Labels    []label         `json:"labels"`
	Milestone json.RawMessage `json:"milestone"`
}

// label accepts both representations GitHub uses: a bare name or an object
// with an optional name.
type label struct {
	Name *string
}

func (l *label) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		l.Name = &name
		return nil
	}

	var obj struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("label: %w", err)
	}
	l.Name = obj.Name

	return nil
}

// labelNames keeps label order and skips labels without a name.
func labelNames(labels []label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.Name != nil {
			names = append(names, *l.Name)
		}
	}
	return names
}

func (h *Handlers) issueEntry(owner, repo string, number int, issueID string, body json.RawMessage) (models.IssueEntry, error) {
	var issue fetchedIssue
	if err := json.Unmarshal(body, &issue); err != nil {
		return models.IssueEntry{}, fmt.Errorf("decode issue: %w", err)
	}

	var instance bson.M
	if err := bson.UnmarshalExtJSON(body, false, &instance); err != nil {
		return models.IssueEntry{}, fmt.Errorf("convert issue to document: %w", err)
	}

	var milestone bson.M
	if len(issue.Milestone) > 0 && string(issue.Milestone) != "null" {
		if err := bson.UnmarshalExtJSON(issue.Milestone, false, &milestone); err != nil {
			return models.IssueEntry{}, fmt.Errorf("convert milestone to document: %w", err)
		}
	}

	if issueID == "" {
		issueID = issue.NodeID
	}
	if issue.Number != 0 {
		number = issue.Number
	}

	return models.IssueEntry{
		IssueID:     issueID,
		RepoOwner:   owner,
		RepoName:    repo,
		IssueNumber: number,
		FetchedAt:   h.now().UTC(),
		Events:      []string{},
		Labels:      labelNames(issue.Labels),
		Milestone:   milestone,
		State:       issue.State,
		Instance:    instance,
	}, nil
}

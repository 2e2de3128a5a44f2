package installations

import (
	"context"
	"fmt"

	"insights/internal/db"
)

// Collections every installation database is provisioned with.
const (
	CollectionProjects = "projects"
	CollectionIssues   = "issues"
	CollectionComments = "comments"
)

const databaseFormat = "installation-%d"

// DatabaseName is the namespace owned by an installation.
func DatabaseName(id int64) string {
	return fmt.Sprintf(databaseFormat, id)
}

// Installation is the storage handle of one tenant. All of its data lives in
// its own database.
type Installation struct {
	ID int64

	db db.Database
}

func newInstallation(id int64, store db.Store) *Installation {
	return &Installation{
		ID: id,
		db: store.Database(DatabaseName(id)),
	}
}

func (i *Installation) Database() db.Database {
	return i.db
}

func (i *Installation) Projects() db.Collection {
	return i.db.Collection(CollectionProjects)
}

func (i *Installation) Issues() db.Collection {
	return i.db.Collection(CollectionIssues)
}

func (i *Installation) Comments() db.Collection {
	return i.db.Collection(CollectionComments)
}

// provision creates the installation's collections and indexes. Running it
// again is harmless.
func (i *Installation) provision(ctx context.Context) error {
	for _, name := range []string{CollectionProjects, CollectionIssues, CollectionComments} {
		if err := i.db.CreateCollection(ctx, name); err != nil {
			return fmt.Errorf("create collection %s.%s: %w", i.db.Name(), name, err)
		}
	}

	if err := i.Issues().EnsureUniqueIndex(ctx, "issue_id"); err != nil {
		return fmt.Errorf("index %s.%s: %w", i.db.Name(), CollectionIssues, err)
	}

	return nil
}

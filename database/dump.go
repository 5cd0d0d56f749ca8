package database

import (
	"context"
	"fmt"

	"github.com/canonical/lxd/lxd/db/query"
	"github.com/canonical/lxd/shared/logger"
)

// Dump returns a SQL text dump of the database behind c. Only sqlite based drivers are supported.
func Dump(ctx context.Context, c *Conn, schemaOnly bool) (string, error) {
	if !c.IsValid() {
		return "", fmt.Errorf("Invalid connection")
	}

	switch c.config.Driver {
	case "sqlite3", "dqlite":
	default:
		return "", fmt.Errorf("Database dumps are not supported for driver %q", c.config.Driver)
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("Failed to begin transaction: %w", err)
	}

	defer func() {
		err := tx.Rollback()
		if err != nil {
			logger.Debug("Failed to roll back dump transaction", logger.Ctx{"worker": c.id, "err": err})
		}
	}()

	dump, err := query.Dump(ctx, tx, schemaOnly)
	if err != nil {
		return "", fmt.Errorf("Failed to dump database: %w", err)
	}

	return dump, nil
}

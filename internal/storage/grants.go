package storage

import (
	"context"
	"fmt"
)

// HasCollectionGrant checks the access fact maintained by the enrollment and
// payment collaborator. The engine only ever reads it as a boolean
// precondition.
func (db *DB) HasCollectionGrant(ctx context.Context, userID, collectionID string) (bool, error) {
	const stmt = `SELECT EXISTS (SELECT 1 FROM collection_grants WHERE user_id = $1 AND collection_id = $2);`

	var ok bool
	if err := db.pool.QueryRow(ctx, stmt, userID, collectionID).Scan(&ok); err != nil {
		return false, fmt.Errorf("select collection grant: %w", err)
	}

	return ok, nil
}

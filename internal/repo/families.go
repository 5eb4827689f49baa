package repo

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
)

func scanCollection(row *sql.Row) (domain.Collection, error) {
	var c domain.Collection
	err := row.Scan(&c.ImportID, &c.Title, &c.Description, &c.OrganisationID, &c.CreatedAt, &c.UpdatedAt)
	return c, notFound(err)
}

func (r Repo) GetCollectionTx(ctx context.Context, tx *sql.Tx, importID string) (domain.Collection, error) {
	return scanCollection(tx.QueryRowContext(ctx, `SELECT import_id,title,description,organisation_id,created_at,updated_at FROM collections WHERE import_id=?`, importID))
}

func (r Repo) InsertCollectionTx(ctx context.Context, tx *sql.Tx, c domain.Collection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO collections(import_id,title,description,organisation_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		c.ImportID, c.Title, c.Description, c.OrganisationID, c.CreatedAt, c.UpdatedAt)
	return errors.Wrapf(err, "insert collection %s", c.ImportID)
}

func (r Repo) UpdateCollectionTx(ctx context.Context, tx *sql.Tx, importID string, fields map[string]any) error {
	return updateFields(ctx, tx, "collections", "import_id", importID, fields)
}

// LinkCollectionFamilyTx reports whether a new link row was written.
func (r Repo) LinkCollectionFamilyTx(ctx context.Context, tx *sql.Tx, collectionID, familyID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO collection_families(collection_import_id,family_import_id) VALUES (?,?)`, collectionID, familyID)
	if err != nil {
		return false, errors.Wrap(err, "link collection family")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListFamilyCollections(ctx context.Context, familyID string) ([]domain.Collection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.import_id,c.title,c.description,c.organisation_id,c.created_at,c.updated_at
FROM collections c JOIN collection_families cf ON cf.collection_import_id=c.import_id
WHERE cf.family_import_id=? ORDER BY c.import_id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Collection
	for rows.Next() {
		var c domain.Collection
		if err := rows.Scan(&c.ImportID, &c.Title, &c.Description, &c.OrganisationID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func getFamily(ctx context.Context, q querier, importID string) (domain.Family, error) {
	var f domain.Family
	var published, updated sql.NullString
	err := q.QueryRowContext(ctx, `SELECT import_id,title,description,category,organisation_id,published_date,last_updated_date,created_at,updated_at FROM families WHERE import_id=?`, importID).
		Scan(&f.ImportID, &f.Title, &f.Description, &f.Category, &f.OrganisationID, &published, &updated, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return f, notFound(err)
	}
	f.PublishedDate = stringPtr(published)
	f.LastUpdatedDate = stringPtr(updated)
	geos, err := familyGeographies(ctx, q, importID)
	if err != nil {
		return f, err
	}
	f.Geographies = geos
	return f, nil
}

func (r Repo) GetFamily(ctx context.Context, importID string) (domain.Family, error) {
	return getFamily(ctx, r.DB, importID)
}

func (r Repo) GetFamilyTx(ctx context.Context, tx *sql.Tx, importID string) (domain.Family, error) {
	return getFamily(ctx, tx, importID)
}

func (r Repo) InsertFamilyTx(ctx context.Context, tx *sql.Tx, f domain.Family) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO families(import_id,title,description,category,organisation_id,published_date,last_updated_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		f.ImportID, f.Title, f.Description, string(f.Category), f.OrganisationID, nullableStringPtr(f.PublishedDate), nullableStringPtr(f.LastUpdatedDate), f.CreatedAt, f.UpdatedAt)
	return errors.Wrapf(err, "insert family %s", f.ImportID)
}

func (r Repo) UpdateFamilyTx(ctx context.Context, tx *sql.Tx, importID string, fields map[string]any) error {
	return updateFields(ctx, tx, "families", "import_id", importID, fields)
}

func familyGeographies(ctx context.Context, q querier, familyID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT g.value FROM family_geographies fg JOIN geographies g ON g.id=fg.geography_id
WHERE fg.family_import_id=? ORDER BY fg.rowid`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// SetFamilyGeographiesTx replaces the family's geography links, keeping the
// given order so the first entry stays the primary geography.
func (r Repo) SetFamilyGeographiesTx(ctx context.Context, tx *sql.Tx, familyID string, geographyIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM family_geographies WHERE family_import_id=?`, familyID); err != nil {
		return errors.Wrap(err, "clear family geographies")
	}
	for _, id := range geographyIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO family_geographies(family_import_id,geography_id) VALUES (?,?)`, familyID, id); err != nil {
			return errors.Wrap(err, "link family geography")
		}
	}
	return nil
}

// ListFamilies returns every family import id owned by an organisation.
func (r Repo) ListFamilies(ctx context.Context, organisationID int64) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT import_id FROM families WHERE organisation_id=? ORDER BY import_id`, organisationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

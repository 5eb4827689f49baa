package repo

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
)

const familyDocumentColumns = `import_id,family_import_id,physical_document_id,document_type,document_role,variant_name,document_status,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFamilyDocument(s rowScanner) (domain.FamilyDocument, error) {
	var d domain.FamilyDocument
	var docType, role, variant sql.NullString
	err := s.Scan(&d.ImportID, &d.FamilyImportID, &d.PhysicalDocumentID, &docType, &role, &variant, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, notFound(err)
	}
	d.DocumentType = docType.String
	d.DocumentRole = role.String
	d.VariantName = variant.String
	return d, nil
}

func (r Repo) GetFamilyDocument(ctx context.Context, importID string) (domain.FamilyDocument, error) {
	return scanFamilyDocument(r.DB.QueryRowContext(ctx, `SELECT `+familyDocumentColumns+` FROM family_documents WHERE import_id=?`, importID))
}

func (r Repo) GetFamilyDocumentTx(ctx context.Context, tx *sql.Tx, importID string) (domain.FamilyDocument, error) {
	return scanFamilyDocument(tx.QueryRowContext(ctx, `SELECT `+familyDocumentColumns+` FROM family_documents WHERE import_id=?`, importID))
}

func (r Repo) InsertFamilyDocumentTx(ctx context.Context, tx *sql.Tx, d domain.FamilyDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO family_documents(`+familyDocumentColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ImportID, d.FamilyImportID, d.PhysicalDocumentID, nullable(d.DocumentType), nullable(d.DocumentRole), nullable(d.VariantName),
		string(d.Status), d.CreatedAt, d.UpdatedAt)
	return errors.Wrapf(err, "insert family document %s", d.ImportID)
}

func (r Repo) UpdateFamilyDocumentTx(ctx context.Context, tx *sql.Tx, importID string, fields map[string]any) error {
	return updateFields(ctx, tx, "family_documents", "import_id", importID, fields)
}

func (r Repo) ListFamilyDocuments(ctx context.Context, familyID string) ([]domain.FamilyDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+familyDocumentColumns+` FROM family_documents WHERE family_import_id=? ORDER BY import_id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FamilyDocument
	for rows.Next() {
		d, err := scanFamilyDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListActiveFamilyDocuments returns every family document not marked Deleted.
func (r Repo) ListActiveFamilyDocuments(ctx context.Context) ([]domain.FamilyDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+familyDocumentColumns+` FROM family_documents WHERE document_status<>'Deleted' ORDER BY import_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FamilyDocument
	for rows.Next() {
		d, err := scanFamilyDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountActiveFamilyDocuments(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM family_documents WHERE document_status<>'Deleted'`).Scan(&n)
	return n, err
}

func (r Repo) CountPhysicalDocuments(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM physical_documents`).Scan(&n)
	return n, err
}

func getPhysicalDocument(ctx context.Context, q querier, id int64) (domain.PhysicalDocument, error) {
	var p domain.PhysicalDocument
	var sourceURL, md5, contentType, cdn sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,title,source_url,md5_sum,content_type,cdn_object FROM physical_documents WHERE id=?`, id).
		Scan(&p.ID, &p.Title, &sourceURL, &md5, &contentType, &cdn)
	if err != nil {
		return p, notFound(err)
	}
	p.SourceURL = sourceURL.String
	p.MD5Sum = md5.String
	p.ContentType = contentType.String
	p.CDNObject = cdn.String
	langs, err := documentLanguages(ctx, q, id)
	if err != nil {
		return p, err
	}
	p.Languages = langs
	return p, nil
}

func (r Repo) GetPhysicalDocument(ctx context.Context, id int64) (domain.PhysicalDocument, error) {
	return getPhysicalDocument(ctx, r.DB, id)
}

func (r Repo) GetPhysicalDocumentTx(ctx context.Context, tx *sql.Tx, id int64) (domain.PhysicalDocument, error) {
	return getPhysicalDocument(ctx, tx, id)
}

// InsertPhysicalDocumentTx returns the new document's id.
func (r Repo) InsertPhysicalDocumentTx(ctx context.Context, tx *sql.Tx, p domain.PhysicalDocument) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO physical_documents(title,source_url,md5_sum,content_type,cdn_object) VALUES (?,?,?,?,?)`,
		p.Title, nullable(p.SourceURL), nullable(p.MD5Sum), nullable(p.ContentType), nullable(p.CDNObject))
	if err != nil {
		return 0, errors.Wrap(err, "insert physical document")
	}
	return res.LastInsertId()
}

func (r Repo) UpdatePhysicalDocumentTx(ctx context.Context, tx *sql.Tx, id int64, fields map[string]any) error {
	return updateFields(ctx, tx, "physical_documents", "id", id, fields)
}

// SlugExistsTx looks a slug up by exact name regardless of its owner.
func (r Repo) SlugExistsTx(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM slugs WHERE name=?`, name).Scan(&n)
	return n > 0, err
}

func (r Repo) InsertSlugTx(ctx context.Context, tx *sql.Tx, s domain.Slug) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO slugs(name,family_import_id,family_document_import_id,collection_import_id,created_at) VALUES (?,?,?,?,?)`,
		s.Name, nullableStringPtr(s.FamilyImportID), nullableStringPtr(s.FamilyDocumentImportID), nullableStringPtr(s.CollectionImportID), s.CreatedAt)
	return errors.Wrapf(err, "insert slug %s", s.Name)
}

// SlugOwner selects which owner column a slug query filters on.
type SlugOwner string

const (
	SlugOwnerFamily         SlugOwner = "family_import_id"
	SlugOwnerFamilyDocument SlugOwner = "family_document_import_id"
	SlugOwnerCollection     SlugOwner = "collection_import_id"
)

func listSlugs(ctx context.Context, q querier, owner SlugOwner, ownerID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM slugs WHERE `+string(owner)+`=? ORDER BY created_at, rowid`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

// ListSlugs returns an owner's slugs, oldest first.
func (r Repo) ListSlugs(ctx context.Context, owner SlugOwner, ownerID string) ([]string, error) {
	return listSlugs(ctx, r.DB, owner, ownerID)
}

func (r Repo) ListSlugsTx(ctx context.Context, tx *sql.Tx, owner SlugOwner, ownerID string) ([]string, error) {
	return listSlugs(ctx, tx, owner, ownerID)
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// nullableColumns are the text columns where an empty value is stored as
// NULL. Every other text column is NOT NULL and keeps "" as is.
var nullableColumns = map[string]bool{
	"source_url":                true,
	"md5_sum":                   true,
	"content_type":              true,
	"cdn_object":                true,
	"document_type":             true,
	"document_role":             true,
	"variant_name":              true,
	"published_date":            true,
	"last_updated_date":         true,
	"family_document_import_id": true,
}

// updateFields writes the given column values in one statement. Columns come
// from the reconciler's change sets, never from input data.
func updateFields(ctx context.Context, q querier, table, keyCol string, key any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+"=?")
		v := fields[c]
		if s, ok := v.(string); ok && nullableColumns[c] {
			v = nullable(s)
		}
		args = append(args, v)
	}
	args = append(args, key)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE %s=?`, table, strings.Join(sets, ","), keyCol), args...)
	if err != nil {
		return errors.Wrapf(err, "update %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOrganisationByName(ctx context.Context, name string) (domain.Organisation, error) {
	var o domain.Organisation
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,corpus_import_id FROM organisations WHERE name=? COLLATE NOCASE`, name).
		Scan(&o.ID, &o.Name, &o.Description, &o.CorpusImportID)
	return o, notFound(err)
}

func (r Repo) ListOrganisations(ctx context.Context) ([]domain.Organisation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,corpus_import_id FROM organisations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organisation
	for rows.Next() {
		var o domain.Organisation
		if err := rows.Scan(&o.ID, &o.Name, &o.Description, &o.CorpusImportID); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) GetGeographyTx(ctx context.Context, tx *sql.Tx, value string) (domain.Geography, error) {
	var g domain.Geography
	err := tx.QueryRowContext(ctx, `SELECT id,value,display_value,type FROM geographies WHERE value=?`, value).
		Scan(&g.ID, &g.Value, &g.Display, &g.Type)
	return g, notFound(err)
}

func (r Repo) ListGeographies(ctx context.Context) ([]domain.Geography, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,value,display_value,type FROM geographies ORDER BY value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Geography
	for rows.Next() {
		var g domain.Geography
		if err := rows.Scan(&g.ID, &g.Value, &g.Display, &g.Type); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// FindLanguageTx looks a language up by ISO 639-3 code, ISO 639-1 code or
// English name, all case-insensitively.
func (r Repo) FindLanguageTx(ctx context.Context, tx *sql.Tx, key string) (domain.Language, error) {
	var l domain.Language
	var part1 sql.NullString
	key = strings.TrimSpace(key)
	err := tx.QueryRowContext(ctx, `SELECT id,language_code,part1_code,name FROM languages
WHERE language_code=? COLLATE NOCASE OR part1_code=? COLLATE NOCASE OR name=? COLLATE NOCASE
ORDER BY CASE WHEN language_code=? COLLATE NOCASE THEN 0 WHEN part1_code=? COLLATE NOCASE THEN 1 ELSE 2 END LIMIT 1`,
		key, key, key, key, key).Scan(&l.ID, &l.Code, &part1, &l.Name)
	if part1.Valid {
		l.Part1 = part1.String
	}
	return l, notFound(err)
}

// LinkedLanguageIDsTx returns the language ids linked to a physical document.
func (r Repo) LinkedLanguageIDsTx(ctx context.Context, tx *sql.Tx, physicalDocumentID int64) (map[int64]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT language_id FROM physical_document_languages WHERE physical_document_id=?`, physicalDocumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}

func (r Repo) LinkLanguageTx(ctx context.Context, tx *sql.Tx, physicalDocumentID, languageID int64, source string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO physical_document_languages(physical_document_id,language_id,source) VALUES (?,?,?)`,
		physicalDocumentID, languageID, source)
	return err
}

func documentLanguages(ctx context.Context, q querier, physicalDocumentID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT l.language_code FROM physical_document_languages pl
JOIN languages l ON l.id=pl.language_id WHERE pl.physical_document_id=? ORDER BY l.language_code`, physicalDocumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		res = append(res, code)
	}
	return res, rows.Err()
}

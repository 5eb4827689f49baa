package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
)

const familyEventColumns = `import_id,family_import_id,family_document_import_id,title,date,event_type,status`

func scanFamilyEvent(s rowScanner) (domain.FamilyEvent, error) {
	var e domain.FamilyEvent
	var docID sql.NullString
	err := s.Scan(&e.ImportID, &e.FamilyImportID, &docID, &e.Title, &e.Date, &e.EventType, &e.Status)
	if err != nil {
		return e, notFound(err)
	}
	e.FamilyDocumentImportID = stringPtr(docID)
	return e, nil
}

func (r Repo) GetFamilyEventTx(ctx context.Context, tx *sql.Tx, importID string) (domain.FamilyEvent, error) {
	return scanFamilyEvent(tx.QueryRowContext(ctx, `SELECT `+familyEventColumns+` FROM family_events WHERE import_id=?`, importID))
}

func (r Repo) InsertFamilyEventTx(ctx context.Context, tx *sql.Tx, e domain.FamilyEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO family_events(`+familyEventColumns+`) VALUES (?,?,?,?,?,?,?)`,
		e.ImportID, e.FamilyImportID, nullableStringPtr(e.FamilyDocumentImportID), e.Title, e.Date, e.EventType, e.Status)
	return errors.Wrapf(err, "insert family event %s", e.ImportID)
}

func (r Repo) UpdateFamilyEventTx(ctx context.Context, tx *sql.Tx, importID string, fields map[string]any) error {
	return updateFields(ctx, tx, "family_events", "import_id", importID, fields)
}

func listFamilyEvents(ctx context.Context, q querier, familyID string) ([]domain.FamilyEvent, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+familyEventColumns+` FROM family_events WHERE family_import_id=? ORDER BY date, import_id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FamilyEvent
	for rows.Next() {
		e, err := scanFamilyEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListFamilyEvents returns a family's events ordered by date.
func (r Repo) ListFamilyEvents(ctx context.Context, familyID string) ([]domain.FamilyEvent, error) {
	return listFamilyEvents(ctx, r.DB, familyID)
}

func (r Repo) ListFamilyEventsTx(ctx context.Context, tx *sql.Tx, familyID string) ([]domain.FamilyEvent, error) {
	return listFamilyEvents(ctx, tx, familyID)
}

func (r Repo) FamilyMetadataExistsTx(ctx context.Context, tx *sql.Tx, familyID, taxonomyID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM family_metadata WHERE family_import_id=? AND taxonomy_id=?`, familyID, taxonomyID).Scan(&n)
	return n > 0, err
}

func (r Repo) InsertFamilyMetadataTx(ctx context.Context, tx *sql.Tx, m domain.FamilyMetadata) error {
	payload, err := json.Marshal(m.Value)
	if err != nil {
		return errors.Wrap(err, "marshal family metadata")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO family_metadata(family_import_id,taxonomy_id,value_json) VALUES (?,?,?)`, m.FamilyImportID, m.TaxonomyID, string(payload))
	return errors.Wrapf(err, "insert family metadata %s", m.FamilyImportID)
}

func (r Repo) DocumentMetadataExistsTx(ctx context.Context, tx *sql.Tx, documentID, taxonomyID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM document_metadata WHERE family_document_import_id=? AND taxonomy_id=?`, documentID, taxonomyID).Scan(&n)
	return n > 0, err
}

func (r Repo) InsertDocumentMetadataTx(ctx context.Context, tx *sql.Tx, m domain.DocumentMetadata) error {
	payload, err := json.Marshal(m.Value)
	if err != nil {
		return errors.Wrap(err, "marshal document metadata")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO document_metadata(family_document_import_id,taxonomy_id,value_json) VALUES (?,?,?)`, m.FamilyDocumentImportID, m.TaxonomyID, string(payload))
	return errors.Wrapf(err, "insert document metadata %s", m.FamilyDocumentImportID)
}

func (r Repo) ListFamilyMetadata(ctx context.Context, familyID string) ([]domain.FamilyMetadata, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT family_import_id,taxonomy_id,value_json FROM family_metadata WHERE family_import_id=? ORDER BY taxonomy_id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FamilyMetadata
	for rows.Next() {
		var m domain.FamilyMetadata
		var payload string
		if err := rows.Scan(&m.FamilyImportID, &m.TaxonomyID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &m.Value); err != nil {
			return nil, errors.Wrapf(err, "decode family metadata %s", m.FamilyImportID)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListDocumentMetadata(ctx context.Context, documentID string) ([]domain.DocumentMetadata, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT family_document_import_id,taxonomy_id,value_json FROM document_metadata WHERE family_document_import_id=? ORDER BY taxonomy_id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentMetadata
	for rows.Next() {
		var m domain.DocumentMetadata
		var payload string
		if err := rows.Scan(&m.FamilyDocumentImportID, &m.TaxonomyID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &m.Value); err != nil {
			return nil, errors.Wrapf(err, "decode document metadata %s", m.FamilyDocumentImportID)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// LatestEvents lists audit events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, runID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,run_id,entity_kind,entity_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var run, entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &run, &e.EntityKind, &entity, &e.Payload); err != nil {
			return nil, err
		}
		e.RunID = run.String
		e.EntityID = entity.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE run_id=?`, runID).Scan(&n)
	return n, err
}

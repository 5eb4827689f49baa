package ingest

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
	"navigator/internal/ingest/rows"
	"navigator/internal/repo"
)

// checkedDocument holds the structural values of a CCLW document row.
type checkedDocument struct {
	category  domain.FamilyCategory
	status    domain.DocumentStatus
	sourceURL string
}

func checkDocumentRow(ic *IngestContext, row rows.DocumentRow) (checkedDocument, error) {
	var c checkedDocument
	if row.CPRFamilyID == "" {
		return c, errors.New("CPR Family ID is blank")
	}
	if row.CPRDocumentID == "" {
		return c, errors.New("CPR Document ID is blank")
	}
	var err error
	if c.category, err = domain.ParseFamilyCategory(row.Category); err != nil {
		return c, err
	}
	if c.status, err = domain.ParseDocumentStatus(row.CPRDocumentStatus); err != nil {
		return c, err
	}
	if c.sourceURL, err = row.SourceURL(); err != nil {
		return c, err
	}
	return c, ic.CheckFamily(row.Row, row.CPRFamilyID, row.FamilyName, row.FamilySummary)
}

func (p processor) validateCCLWDocument(_ context.Context, ic *IngestContext, row rows.DocumentRow) (RowOutcome, error) {
	if _, err := checkDocumentRow(ic, row); err != nil {
		return RowOutcome{}, err
	}
	md := BuildCCLWMetadata(p.tax, row)
	ic.PinFamily(row.Row, row.CPRFamilyID, row.FamilyName, row.FamilySummary)
	return RowOutcome{Row: row.Row, Result: md.Result}, nil
}

func (p processor) ingestCCLWDocument(ctx context.Context, ic *IngestContext, row rows.DocumentRow) (RowOutcome, error) {
	checked, err := checkDocumentRow(ic, row)
	if err != nil {
		return RowOutcome{}, err
	}
	md := BuildCCLWMetadata(p.tax, row)
	docType := row.DocumentType
	if v, ok := md.Canonical("document_type"); ok {
		docType = v
	}

	out, err := p.inTx(ctx, func(tx *sql.Tx) (RowOutcome, error) {
		out := RowOutcome{Row: row.Row, Result: md.Result}
		ch := &out.Changes
		rec := p.rec

		collectionID := row.CPRCollectionID
		hasCollection := collectionID != "" && !rows.IsNA(collectionID)
		if hasCollection {
			if ch.Collection, err = rec.Collection(ctx, tx, ic.OrgID, CollectionInput{
				ImportID:    collectionID,
				Title:       row.CollectionName,
				Description: row.CollectionSummary,
			}); err != nil {
				return out, err
			}
		}
		if ch.Family, err = rec.Family(ctx, tx, ic.OrgID, FamilyInput{
			ImportID:    row.CPRFamilyID,
			Title:       row.FamilyName,
			Description: row.FamilySummary,
			Category:    checked.category,
			Geographies: row.GeographyISO,
		}); err != nil {
			return out, err
		}
		if hasCollection {
			linked, err := rec.LinkCollection(ctx, tx, collectionID, row.CPRFamilyID)
			if err != nil {
				return out, err
			}
			if linked {
				ch.CollectionLinks = append(ch.CollectionLinks, collectionID)
			}
		}
		if ch.FamilyDocument, ch.PhysicalDocument, err = rec.FamilyDocument(ctx, tx, DocumentInput{
			ImportID:       row.CPRDocumentID,
			FamilyImportID: row.CPRFamilyID,
			Title:          row.DocumentTitle,
			SourceURL:      checked.sourceURL,
			DocumentType:   docType,
			DocumentRole:   row.DocumentRole,
			VariantName:    row.DocumentVariant,
			Status:         checked.status,
			Languages:      row.Language,
		}); err != nil {
			return out, err
		}
		if ch.FamilySlug, err = rec.Slug(ctx, tx, repo.SlugOwnerFamily, row.CPRFamilyID, row.CPRFamilySlug, row.FamilyName); err != nil {
			return out, err
		}
		if ch.DocumentSlug, err = rec.Slug(ctx, tx, repo.SlugOwnerFamilyDocument, row.CPRDocumentID, row.CPRDocumentSlug, row.DocumentTitle); err != nil {
			return out, err
		}
		if md.Result.Type == ResultError {
			return out, nil
		}
		if ch.FamilyMetadata, err = rec.FamilyMetadata(ctx, tx, row.CPRFamilyID, md.TaxonomyID, md.Family); err != nil {
			return out, err
		}
		ch.DocumentMetadata, err = rec.DocumentMetadata(ctx, tx, row.CPRDocumentID, md.TaxonomyID, md.Document)
		return out, err
	})
	if err == nil {
		ic.PinFamily(row.Row, row.CPRFamilyID, row.FamilyName, row.FamilySummary)
	}
	return out, err
}

func checkEventRow(row rows.EventRow) error {
	if row.CPREventID == "" {
		return errors.New("CPR Event ID is blank")
	}
	if row.CPRFamilyID == "" {
		return errors.New("CPR Family ID is blank")
	}
	return nil
}

func (p processor) validateEvent(_ context.Context, _ *IngestContext, row rows.EventRow) (RowOutcome, error) {
	if err := checkEventRow(row); err != nil {
		return RowOutcome{}, err
	}
	_, res := buildScalarField(row.Row, p.tax, "event_type", row.EventType)
	return RowOutcome{Row: row.Row, Result: res}, nil
}

func (p processor) ingestEvent(ctx context.Context, _ *IngestContext, row rows.EventRow) (RowOutcome, error) {
	if err := checkEventRow(row); err != nil {
		return RowOutcome{}, err
	}
	eventType, res := buildScalarField(row.Row, p.tax, "event_type", row.EventType)
	if res.Type == ResultError {
		return RowOutcome{Row: row.Row, Result: res}, nil
	}
	status := row.EventStatus
	if status == "" {
		status = domain.EventStatusOK
	}
	return p.inTx(ctx, func(tx *sql.Tx) (RowOutcome, error) {
		out := RowOutcome{Row: row.Row, Result: res}
		var err error
		out.Changes.Event, out.Changes.Family, err = p.rec.Event(ctx, tx, EventInput{
			ImportID:       row.CPREventID,
			FamilyImportID: row.CPRFamilyID,
			Title:          row.Title,
			Date:           row.Date.Format(rows.DateFormat),
			EventType:      eventType,
			Status:         status,
		})
		return out, err
	})
}

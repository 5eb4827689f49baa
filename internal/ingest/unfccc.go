package ingest

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
	"navigator/internal/ingest/rows"
	"navigator/internal/repo"
)

func (p processor) validateCollection(_ context.Context, ic *IngestContext, row rows.CollectionRow) (RowOutcome, error) {
	if row.CPRCollectionID == "" {
		return RowOutcome{}, errors.New("CPR Collection ID is blank")
	}
	ic.DefineCollection(row.CPRCollectionID)
	return RowOutcome{Row: row.Row, Result: Result{Type: ResultOK}}, nil
}

func (p processor) ingestCollection(ctx context.Context, ic *IngestContext, row rows.CollectionRow) (RowOutcome, error) {
	if row.CPRCollectionID == "" {
		return RowOutcome{}, errors.New("CPR Collection ID is blank")
	}
	out, err := p.inTx(ctx, func(tx *sql.Tx) (RowOutcome, error) {
		out := RowOutcome{Row: row.Row, Result: Result{Type: ResultOK}}
		var err error
		out.Changes.Collection, err = p.rec.Collection(ctx, tx, ic.OrgID, CollectionInput{
			ImportID:    row.CPRCollectionID,
			Title:       row.CollectionName,
			Description: row.CollectionSummary,
		})
		return out, err
	})
	if err == nil {
		ic.DefineCollection(row.CPRCollectionID)
	}
	return out, err
}

type checkedUNFCCCDocument struct {
	category  domain.FamilyCategory
	status    domain.DocumentStatus
	sourceURL string
}

func checkUNFCCCDocumentRow(ic *IngestContext, row rows.UNFCCCDocumentRow) (checkedUNFCCCDocument, error) {
	var c checkedUNFCCCDocument
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
	if err := ic.CheckFamily(row.Row, row.CPRFamilyID, row.FamilyName, ""); err != nil {
		return c, err
	}
	for _, id := range row.CollectionIDs() {
		ic.ReferenceCollection(id)
	}
	return c, nil
}

func (p processor) validateUNFCCCDocument(_ context.Context, ic *IngestContext, row rows.UNFCCCDocumentRow) (RowOutcome, error) {
	if _, err := checkUNFCCCDocumentRow(ic, row); err != nil {
		return RowOutcome{}, err
	}
	md := BuildUNFCCCMetadata(p.tax, row)
	ic.PinFamily(row.Row, row.CPRFamilyID, row.FamilyName, "")
	return RowOutcome{Row: row.Row, Result: md.Result}, nil
}

func (p processor) ingestUNFCCCDocument(ctx context.Context, ic *IngestContext, row rows.UNFCCCDocumentRow) (RowOutcome, error) {
	checked, err := checkUNFCCCDocumentRow(ic, row)
	if err != nil {
		return RowOutcome{}, err
	}
	md := BuildUNFCCCMetadata(p.tax, row)
	docType := row.SubmissionType
	if v, ok := md.Canonical("document_type"); ok {
		docType = v
	}

	out, err := p.inTx(ctx, func(tx *sql.Tx) (RowOutcome, error) {
		out := RowOutcome{Row: row.Row, Result: md.Result}
		ch := &out.Changes
		rec := p.rec

		if ch.Family, err = rec.Family(ctx, tx, ic.OrgID, FamilyInput{
			ImportID:    row.CPRFamilyID,
			Title:       row.FamilyName,
			Category:    checked.category,
			Geographies: row.GeographyISO,
		}); err != nil {
			return out, err
		}
		for _, id := range row.CollectionIDs() {
			// undefined collections are reported once the whole file is read
			if !ic.definedCollections[id] {
				continue
			}
			if _, err := rec.Repo.GetCollectionTx(ctx, tx, id); errors.Is(err, repo.ErrNotFound) {
				continue
			} else if err != nil {
				return out, err
			}
			linked, err := rec.LinkCollection(ctx, tx, id, row.CPRFamilyID)
			if err != nil {
				return out, err
			}
			if linked {
				ch.CollectionLinks = append(ch.CollectionLinks, id)
			}
		}
		if ch.FamilyDocument, ch.PhysicalDocument, err = rec.FamilyDocument(ctx, tx, DocumentInput{
			ImportID:       row.CPRDocumentID,
			FamilyImportID: row.CPRFamilyID,
			Title:          row.DocumentTitle,
			SourceURL:      checked.sourceURL,
			MD5Sum:         row.MD5Sum,
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

		var familyDates *ChangeSet
		if ch.Event, familyDates, err = rec.Event(ctx, tx, EventInput{
			ImportID:               row.CPRDocumentID + ".event",
			FamilyImportID:         row.CPRFamilyID,
			FamilyDocumentImportID: row.CPRDocumentID,
			Title:                  row.DocumentTitle,
			Date:                   row.Date.Format(rows.DateFormat),
			EventType:              domain.EventTypePassed,
			Status:                 domain.EventStatusOK,
		}); err != nil {
			return out, err
		}
		if familyDates != nil {
			ch.Family = mergeChanges(ch.Family, familyDates.Fields)
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
		ic.PinFamily(row.Row, row.CPRFamilyID, row.FamilyName, "")
	}
	return out, err
}

package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
	"navigator/internal/events"
	"navigator/internal/ingest"
	"navigator/internal/repo"
)

// DocumentUpdate is a partial update of the physical document behind a
// family document. Nil fields are left alone; languages are only added.
type DocumentUpdate struct {
	Title       *string  `json:"title,omitempty"`
	MD5Sum      *string  `json:"md5_sum,omitempty"`
	ContentType *string  `json:"content_type,omitempty"`
	CDNObject   *string  `json:"cdn_object,omitempty"`
	Languages   []string `json:"languages,omitempty"`
}

type DocumentView struct {
	domain.FamilyDocument
	Physical domain.PhysicalDocument `json:"physical_document"`
	Slugs    []string                `json:"slugs"`
	Changes  *ingest.ChangeSet       `json:"changes,omitempty"`
}

// UpdateDocument applies an admin update. Languages may be given as ISO
// 639-3 or 639-1 codes or names; unknown ones are logged and skipped, ones
// already linked are skipped, new ones are linked as user sourced.
func (e Engine) UpdateDocument(ctx context.Context, importID string, upd DocumentUpdate) (DocumentView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DocumentView{}, err
	}
	defer tx.Rollback()

	fd, err := e.Repo.GetFamilyDocumentTx(ctx, tx, importID)
	if err != nil {
		return DocumentView{}, errors.Wrapf(err, "family document %s", importID)
	}
	pd, err := e.Repo.GetPhysicalDocumentTx(ctx, tx, fd.PhysicalDocumentID)
	if err != nil {
		return DocumentView{}, errors.Wrapf(err, "physical document %d", fd.PhysicalDocumentID)
	}

	fields := map[string]any{}
	set := func(col string, current string, next *string) {
		if next != nil && *next != current {
			fields[col] = *next
		}
	}
	set("title", pd.Title, upd.Title)
	set("md5_sum", pd.MD5Sum, upd.MD5Sum)
	set("content_type", pd.ContentType, upd.ContentType)
	set("cdn_object", pd.CDNObject, upd.CDNObject)
	if len(fields) > 0 {
		if err := e.Repo.UpdatePhysicalDocumentTx(ctx, tx, pd.ID, fields); err != nil {
			return DocumentView{}, err
		}
	}

	rec := ingest.Reconciler{Repo: e.Repo, Events: e.Events, Now: e.Now, Logger: e.logger().Named("admin")}
	added, err := rec.AddLanguages(ctx, tx, pd.ID, upd.Languages, ingest.LanguageSourceUser)
	if err != nil {
		return DocumentView{}, err
	}
	if len(added) > 0 {
		fields["languages"] = added
	}

	var changes *ingest.ChangeSet
	if len(fields) > 0 {
		changes = &ingest.ChangeSet{Fields: fields}
		if err := e.Events.Append(ctx, tx, "physical_document.updated", "", "physical_document", importID, events.EventPayload(fields)); err != nil {
			return DocumentView{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return DocumentView{}, err
	}

	view, err := e.document(ctx, importID)
	if err != nil {
		return DocumentView{}, err
	}
	view.Changes = changes
	return view, nil
}

func (e Engine) document(ctx context.Context, importID string) (DocumentView, error) {
	fd, err := e.Repo.GetFamilyDocument(ctx, importID)
	if err != nil {
		return DocumentView{}, err
	}
	return e.documentView(ctx, fd)
}

func (e Engine) documentView(ctx context.Context, fd domain.FamilyDocument) (DocumentView, error) {
	pd, err := e.Repo.GetPhysicalDocument(ctx, fd.PhysicalDocumentID)
	if err != nil {
		return DocumentView{}, errors.Wrapf(err, "physical document %d", fd.PhysicalDocumentID)
	}
	slugs, err := e.Repo.ListSlugs(ctx, repo.SlugOwnerFamilyDocument, fd.ImportID)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{FamilyDocument: fd, Physical: pd, Slugs: slugs}, nil
}

// FamilyView is a family with everything hanging off it.
type FamilyView struct {
	domain.Family
	Slugs       []string                  `json:"slugs"`
	Documents   []DocumentView            `json:"documents"`
	Collections []domain.Collection       `json:"collections"`
	Events      []domain.FamilyEvent      `json:"events"`
	Metadata    []domain.FamilyMetadata   `json:"metadata"`
	DocMetadata []domain.DocumentMetadata `json:"document_metadata"`
}

func (e Engine) GetFamily(ctx context.Context, importID string) (FamilyView, error) {
	f, err := e.Repo.GetFamily(ctx, importID)
	if err != nil {
		return FamilyView{}, errors.Wrapf(err, "family %s", importID)
	}
	v := FamilyView{Family: f}
	if v.Slugs, err = e.Repo.ListSlugs(ctx, repo.SlugOwnerFamily, importID); err != nil {
		return FamilyView{}, err
	}
	docs, err := e.Repo.ListFamilyDocuments(ctx, importID)
	if err != nil {
		return FamilyView{}, err
	}
	v.Documents = make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		dv, err := e.documentView(ctx, d)
		if err != nil {
			return FamilyView{}, err
		}
		v.Documents = append(v.Documents, dv)
		md, err := e.Repo.ListDocumentMetadata(ctx, d.ImportID)
		if err != nil {
			return FamilyView{}, err
		}
		v.DocMetadata = append(v.DocMetadata, md...)
	}
	if v.Collections, err = e.Repo.ListFamilyCollections(ctx, importID); err != nil {
		return FamilyView{}, err
	}
	if v.Events, err = e.Repo.ListFamilyEvents(ctx, importID); err != nil {
		return FamilyView{}, err
	}
	if v.Metadata, err = e.Repo.ListFamilyMetadata(ctx, importID); err != nil {
		return FamilyView{}, err
	}
	return v, nil
}

package ingest

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"navigator/internal/domain"
	"navigator/internal/events"
	"navigator/internal/repo"
)

// Language link sources.
const (
	LanguageSourceModel = "model"
	LanguageSourceUser  = "user"
)

// Reconciler creates or updates catalog entities inside a caller-owned
// transaction. Each method looks the entity up by import id, creates it when
// absent and otherwise writes only the fields that differ.
type Reconciler struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
	Logger *zap.Logger
	RunID  string
}

func (r Reconciler) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return r.Now().UTC().Format(time.RFC3339)
}

func (r Reconciler) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r Reconciler) audit(ctx context.Context, tx *sql.Tx, kind, id string, cs *ChangeSet) error {
	if cs == nil {
		return nil
	}
	evt := kind + ".updated"
	if cs.Created {
		evt = kind + ".created"
	}
	return r.Events.Append(ctx, tx, evt, r.RunID, kind, id, events.EventPayload(cs.Fields))
}

type CollectionInput struct {
	ImportID    string
	Title       string
	Description string
}

func (r Reconciler) Collection(ctx context.Context, tx *sql.Tx, orgID int64, in CollectionInput) (*ChangeSet, error) {
	existing, err := r.Repo.GetCollectionTx(ctx, tx, in.ImportID)
	if errors.Is(err, repo.ErrNotFound) {
		now := r.now()
		c := domain.Collection{
			ImportID:       in.ImportID,
			Title:          in.Title,
			Description:    in.Description,
			OrganisationID: orgID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.Repo.InsertCollectionTx(ctx, tx, c); err != nil {
			return nil, err
		}
		cs := created(map[string]any{"import_id": c.ImportID, "title": c.Title, "description": c.Description})
		return cs, r.audit(ctx, tx, "collection", c.ImportID, cs)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load collection %s", in.ImportID)
	}
	d := fieldDiff{}
	d.str("title", existing.Title, in.Title)
	d.str("description", existing.Description, in.Description)
	cs := d.changes()
	if cs == nil {
		return nil, nil
	}
	if err := r.Repo.UpdateCollectionTx(ctx, tx, in.ImportID, withUpdatedAt(cs.Fields, r.now())); err != nil {
		return nil, err
	}
	return cs, r.audit(ctx, tx, "collection", in.ImportID, cs)
}

// withUpdatedAt copies the staged fields and stamps updated_at.
func withUpdatedAt(fields map[string]any, now string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["updated_at"] = now
	return out
}

// LinkCollection links a family to a collection at most once per pair.
func (r Reconciler) LinkCollection(ctx context.Context, tx *sql.Tx, collectionID, familyID string) (bool, error) {
	linked, err := r.Repo.LinkCollectionFamilyTx(ctx, tx, collectionID, familyID)
	if err != nil || !linked {
		return false, err
	}
	return true, r.Events.Append(ctx, tx, "collection.family_linked", r.RunID, "collection", collectionID, events.EventPayload{"family_import_id": familyID})
}

type FamilyInput struct {
	ImportID    string
	Title       string
	Description string
	Category    domain.FamilyCategory
	Geographies []string
}

// Geographies resolves ISO codes to ids. Any unknown code fails the row.
func (r Reconciler) Geographies(ctx context.Context, tx *sql.Tx, codes []string) ([]int64, error) {
	ids := make([]int64, 0, len(codes))
	for _, code := range codes {
		g, err := r.Repo.GetGeographyTx(ctx, tx, code)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errors.WithHint(errors.Wrapf(ErrUnknownGeography, "%q", code), "geography codes are ISO 3166 alpha-3, XAA or EUR")
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (r Reconciler) Family(ctx context.Context, tx *sql.Tx, orgID int64, in FamilyInput) (*ChangeSet, error) {
	geos := dedupe(in.Geographies)
	if geos == nil {
		geos = []string{}
	}
	geoIDs, err := r.Geographies(ctx, tx, geos)
	if err != nil {
		return nil, err
	}
	existing, err := r.Repo.GetFamilyTx(ctx, tx, in.ImportID)
	if errors.Is(err, repo.ErrNotFound) {
		now := r.now()
		f := domain.Family{
			ImportID:       in.ImportID,
			Title:          in.Title,
			Description:    in.Description,
			Category:       in.Category,
			OrganisationID: orgID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.Repo.InsertFamilyTx(ctx, tx, f); err != nil {
			return nil, err
		}
		if err := r.Repo.SetFamilyGeographiesTx(ctx, tx, f.ImportID, geoIDs); err != nil {
			return nil, err
		}
		cs := created(map[string]any{
			"import_id":   f.ImportID,
			"title":       f.Title,
			"description": f.Description,
			"category":    string(f.Category),
			"geographies": geos,
		})
		return cs, r.audit(ctx, tx, "family", f.ImportID, cs)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load family %s", in.ImportID)
	}
	if existing.OrganisationID != orgID {
		return nil, errors.Newf("family %s belongs to another organisation", in.ImportID)
	}

	d := fieldDiff{}
	d.str("title", existing.Title, in.Title)
	d.str("description", existing.Description, in.Description)
	d.str("category", string(existing.Category), string(in.Category))
	cs := d.changes()
	if cs != nil {
		if err := r.Repo.UpdateFamilyTx(ctx, tx, in.ImportID, withUpdatedAt(cs.Fields, r.now())); err != nil {
			return nil, err
		}
	}
	if !slices.Equal(existing.Geographies, geos) {
		if err := r.Repo.SetFamilyGeographiesTx(ctx, tx, in.ImportID, geoIDs); err != nil {
			return nil, err
		}
		cs = mergeChanges(cs, map[string]any{"geographies": geos})
	}
	return cs, r.audit(ctx, tx, "family", in.ImportID, cs)
}

type DocumentInput struct {
	ImportID       string
	FamilyImportID string
	Title          string
	SourceURL      string
	MD5Sum         string
	DocumentType   string
	DocumentRole   string
	VariantName    string
	Status         domain.DocumentStatus
	Languages      []string
}

// FamilyDocument reconciles a family document and the physical document
// behind it. A changed source url gets a new physical document; the old one
// stays in place, unreferenced.
func (r Reconciler) FamilyDocument(ctx context.Context, tx *sql.Tx, in DocumentInput) (doc, physical *ChangeSet, err error) {
	existing, err := r.Repo.GetFamilyDocumentTx(ctx, tx, in.ImportID)
	if errors.Is(err, repo.ErrNotFound) {
		physicalID, pcs, err := r.createPhysicalDocument(ctx, tx, in)
		if err != nil {
			return nil, nil, err
		}
		now := r.now()
		fd := domain.FamilyDocument{
			ImportID:           in.ImportID,
			FamilyImportID:     in.FamilyImportID,
			PhysicalDocumentID: physicalID,
			DocumentType:       in.DocumentType,
			DocumentRole:       in.DocumentRole,
			VariantName:        in.VariantName,
			Status:             in.Status,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := r.Repo.InsertFamilyDocumentTx(ctx, tx, fd); err != nil {
			return nil, nil, err
		}
		cs := created(map[string]any{
			"import_id":            fd.ImportID,
			"family_import_id":     fd.FamilyImportID,
			"physical_document_id": fd.PhysicalDocumentID,
			"document_type":        fd.DocumentType,
			"document_role":        fd.DocumentRole,
			"variant_name":         fd.VariantName,
			"document_status":      string(fd.Status),
		})
		return cs, pcs, r.audit(ctx, tx, "family_document", fd.ImportID, cs)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load family document %s", in.ImportID)
	}

	current, err := r.Repo.GetPhysicalDocumentTx(ctx, tx, existing.PhysicalDocumentID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load physical document %d", existing.PhysicalDocumentID)
	}

	d := fieldDiff{}
	if current.SourceURL != in.SourceURL {
		physicalID, pcs, err := r.createPhysicalDocument(ctx, tx, in)
		if err != nil {
			return nil, nil, err
		}
		physical = pcs
		d["physical_document_id"] = physicalID
	} else {
		pd := fieldDiff{}
		pd.str("title", current.Title, in.Title)
		physical = pd.changes()
		if physical != nil {
			if err := r.Repo.UpdatePhysicalDocumentTx(ctx, tx, current.ID, physical.Fields); err != nil {
				return nil, nil, err
			}
		}
		added, err := r.AddLanguages(ctx, tx, current.ID, in.Languages, LanguageSourceModel)
		if err != nil {
			return nil, nil, err
		}
		if len(added) > 0 {
			physical = mergeChanges(physical, map[string]any{"languages": added})
		}
		if err := r.audit(ctx, tx, "physical_document", in.ImportID, physical); err != nil {
			return nil, nil, err
		}
	}

	d.str("family_import_id", existing.FamilyImportID, in.FamilyImportID)
	d.str("document_type", existing.DocumentType, in.DocumentType)
	d.str("document_role", existing.DocumentRole, in.DocumentRole)
	d.str("variant_name", existing.VariantName, in.VariantName)
	d.str("document_status", string(existing.Status), string(in.Status))
	doc = d.changes()
	if doc == nil {
		return nil, physical, nil
	}
	if err := r.Repo.UpdateFamilyDocumentTx(ctx, tx, in.ImportID, withUpdatedAt(doc.Fields, r.now())); err != nil {
		return nil, nil, err
	}
	return doc, physical, r.audit(ctx, tx, "family_document", in.ImportID, doc)
}

func (r Reconciler) createPhysicalDocument(ctx context.Context, tx *sql.Tx, in DocumentInput) (int64, *ChangeSet, error) {
	p := domain.PhysicalDocument{Title: in.Title, SourceURL: in.SourceURL, MD5Sum: in.MD5Sum}
	id, err := r.Repo.InsertPhysicalDocumentTx(ctx, tx, p)
	if err != nil {
		return 0, nil, err
	}
	added, err := r.AddLanguages(ctx, tx, id, in.Languages, LanguageSourceModel)
	if err != nil {
		return 0, nil, err
	}
	cs := created(map[string]any{
		"id":         id,
		"title":      p.Title,
		"source_url": p.SourceURL,
		"md5_sum":    p.MD5Sum,
		"languages":  added,
	})
	return id, cs, r.audit(ctx, tx, "physical_document", in.ImportID, cs)
}

// AddLanguages links the given languages to a physical document and returns
// the ISO 639-3 codes it added. Links are never removed; unknown languages
// are logged and skipped.
func (r Reconciler) AddLanguages(ctx context.Context, tx *sql.Tx, physicalDocumentID int64, languages []string, source string) ([]string, error) {
	linked, err := r.Repo.LinkedLanguageIDsTx(ctx, tx, physicalDocumentID)
	if err != nil {
		return nil, err
	}
	added := []string{}
	for _, key := range languages {
		lang, err := r.Repo.FindLanguageTx(ctx, tx, key)
		if errors.Is(err, repo.ErrNotFound) {
			r.logger().Warn("skipping unknown language", zap.String("language", key), zap.Int64("physical_document_id", physicalDocumentID))
			continue
		}
		if err != nil {
			return nil, err
		}
		if linked[lang.ID] {
			continue
		}
		if err := r.Repo.LinkLanguageTx(ctx, tx, physicalDocumentID, lang.ID, source); err != nil {
			return nil, err
		}
		linked[lang.ID] = true
		added = append(added, lang.Code)
	}
	return added, nil
}

// Slug writes a slug for an owner. A submitted name that already exists
// anywhere is a no-op whoever owns it. Without a submitted name a slug is
// generated from title, unless the owner already has one.
func (r Reconciler) Slug(ctx context.Context, tx *sql.Tx, owner repo.SlugOwner, ownerID, name, title string) (*ChangeSet, error) {
	if name == "" {
		have, err := r.Repo.ListSlugsTx(ctx, tx, owner, ownerID)
		if err != nil {
			return nil, err
		}
		if len(have) > 0 {
			return nil, nil
		}
		base := Slugify(title)
		if base == "" {
			base = Slugify(ownerID)
		}
		if name, err = uniqueSlug(ctx, r.slugExists(tx), base); err != nil {
			return nil, err
		}
	} else {
		exists, err := r.Repo.SlugExistsTx(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
	}
	s := domain.Slug{Name: name, CreatedAt: r.now()}
	id := ownerID
	switch owner {
	case repo.SlugOwnerFamily:
		s.FamilyImportID = &id
	case repo.SlugOwnerFamilyDocument:
		s.FamilyDocumentImportID = &id
	case repo.SlugOwnerCollection:
		s.CollectionImportID = &id
	default:
		return nil, errors.AssertionFailedf("unknown slug owner %q", owner)
	}
	if err := r.Repo.InsertSlugTx(ctx, tx, s); err != nil {
		return nil, err
	}
	cs := created(map[string]any{"name": name, string(owner): ownerID})
	return cs, r.audit(ctx, tx, "slug", name, cs)
}

type EventInput struct {
	ImportID               string
	FamilyImportID         string
	FamilyDocumentImportID string
	Title                  string
	Date                   string
	EventType              string
	Status                 string
}

// Event reconciles a family event. When it changes, the family's derived
// dates are recomputed and any change to them is returned as family fields.
func (r Reconciler) Event(ctx context.Context, tx *sql.Tx, in EventInput) (event, family *ChangeSet, err error) {
	if _, err := r.Repo.GetFamilyTx(ctx, tx, in.FamilyImportID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, errors.Wrapf(ErrUnknownFamily, "event %s references %s", in.ImportID, in.FamilyImportID)
		}
		return nil, nil, err
	}
	var docID *string
	if in.FamilyDocumentImportID != "" {
		v := in.FamilyDocumentImportID
		docID = &v
	}
	existing, err := r.Repo.GetFamilyEventTx(ctx, tx, in.ImportID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		e := domain.FamilyEvent{
			ImportID:               in.ImportID,
			FamilyImportID:         in.FamilyImportID,
			FamilyDocumentImportID: docID,
			Title:                  in.Title,
			Date:                   in.Date,
			EventType:              in.EventType,
			Status:                 in.Status,
		}
		if err := r.Repo.InsertFamilyEventTx(ctx, tx, e); err != nil {
			return nil, nil, err
		}
		event = created(map[string]any{
			"import_id":        e.ImportID,
			"family_import_id": e.FamilyImportID,
			"title":            e.Title,
			"date":             e.Date,
			"event_type":       e.EventType,
			"status":           e.Status,
		})
	case err != nil:
		return nil, nil, errors.Wrapf(err, "load event %s", in.ImportID)
	default:
		d := fieldDiff{}
		d.str("family_import_id", existing.FamilyImportID, in.FamilyImportID)
		d.str("title", existing.Title, in.Title)
		d.str("date", existing.Date, in.Date)
		d.str("event_type", existing.EventType, in.EventType)
		d.str("status", existing.Status, in.Status)
		current := ""
		if existing.FamilyDocumentImportID != nil {
			current = *existing.FamilyDocumentImportID
		}
		d.str("family_document_import_id", current, in.FamilyDocumentImportID)
		event = d.changes()
		if event == nil {
			return nil, nil, nil
		}
		if err := r.Repo.UpdateFamilyEventTx(ctx, tx, in.ImportID, event.Fields); err != nil {
			return nil, nil, err
		}
	}
	if err := r.audit(ctx, tx, "family_event", in.ImportID, event); err != nil {
		return nil, nil, err
	}
	family, err = r.FamilyDates(ctx, tx, in.FamilyImportID)
	return event, family, err
}

// FamilyDates recomputes published_date (earliest Passed/Approved event,
// else earliest event) and last_updated_date (latest event).
func (r Reconciler) FamilyDates(ctx context.Context, tx *sql.Tx, familyID string) (*ChangeSet, error) {
	evts, err := r.Repo.ListFamilyEventsTx(ctx, tx, familyID)
	if err != nil {
		return nil, err
	}
	var published, earliest, latest string
	for _, e := range evts {
		if earliest == "" || e.Date < earliest {
			earliest = e.Date
		}
		if e.Date > latest {
			latest = e.Date
		}
		if e.EventType == domain.EventTypePassed && (published == "" || e.Date < published) {
			published = e.Date
		}
	}
	if published == "" {
		published = earliest
	}
	f, err := r.Repo.GetFamilyTx(ctx, tx, familyID)
	if err != nil {
		return nil, err
	}
	d := fieldDiff{}
	d.str("published_date", deref(f.PublishedDate), published)
	d.str("last_updated_date", deref(f.LastUpdatedDate), latest)
	cs := d.changes()
	if cs == nil {
		return nil, nil
	}
	if err := r.Repo.UpdateFamilyTx(ctx, tx, familyID, withUpdatedAt(cs.Fields, r.now())); err != nil {
		return nil, err
	}
	return cs, r.audit(ctx, tx, "family", familyID, cs)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FamilyMetadata stores a family's metadata once per taxonomy.
func (r Reconciler) FamilyMetadata(ctx context.Context, tx *sql.Tx, familyID, taxonomyID string, value domain.Metadata) (*ChangeSet, error) {
	exists, err := r.Repo.FamilyMetadataExistsTx(ctx, tx, familyID, taxonomyID)
	if err != nil || exists {
		return nil, err
	}
	if err := r.Repo.InsertFamilyMetadataTx(ctx, tx, domain.FamilyMetadata{FamilyImportID: familyID, TaxonomyID: taxonomyID, Value: value}); err != nil {
		return nil, err
	}
	cs := created(map[string]any{"taxonomy_id": taxonomyID, "value": value})
	return cs, r.audit(ctx, tx, "family_metadata", familyID, cs)
}

func (r Reconciler) DocumentMetadata(ctx context.Context, tx *sql.Tx, documentID, taxonomyID string, value domain.Metadata) (*ChangeSet, error) {
	if len(value) == 0 {
		return nil, nil
	}
	exists, err := r.Repo.DocumentMetadataExistsTx(ctx, tx, documentID, taxonomyID)
	if err != nil || exists {
		return nil, err
	}
	if err := r.Repo.InsertDocumentMetadataTx(ctx, tx, domain.DocumentMetadata{FamilyDocumentImportID: documentID, TaxonomyID: taxonomyID, Value: value}); err != nil {
		return nil, err
	}
	cs := created(map[string]any{"taxonomy_id": taxonomyID, "value": value})
	return cs, r.audit(ctx, tx, "document_metadata", documentID, cs)
}

// Package export projects the catalog into the flat records consumed by the
// document parsing pipeline.
package export

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"navigator/internal/domain"
	"navigator/internal/repo"
)

// FallbackPublicationTS is used for families without a published date.
var FallbackPublicationTS = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Record is one family document as the parser pipeline reads it.
type Record struct {
	ImportID       string              `json:"import_id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Category       string              `json:"category"`
	PublicationTS  time.Time           `json:"publication_ts"`
	Slug           string              `json:"slug"`
	FamilyImportID string              `json:"family_import_id"`
	FamilySlug     string              `json:"family_slug"`
	Type           string              `json:"type"`
	Source         string              `json:"source"`
	CorpusImportID string              `json:"corpus_import_id"`
	Geography      string              `json:"geography"`
	Geographies    []string            `json:"geographies"`
	Languages      []string            `json:"languages"`
	Metadata       map[string][]string `json:"metadata"`
	SourceURL      string              `json:"source_url"`
	DownloadURL    string              `json:"download_url"`
	MD5Sum         string              `json:"md5_sum"`
}

// Exporter reads the catalog. CDNBase prefixes the stored cdn object to form
// download urls; without it the source url is used.
type Exporter struct {
	Repo    repo.Repo
	CDNBase string
	Logger  *zap.Logger
}

func (e Exporter) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger.Named("export")
}

// Records returns one record per non-deleted family document, ordered by
// import id. Documents whose family or physical document cannot be loaded
// are skipped and show up as a count mismatch warning.
func (e Exporter) Records(ctx context.Context) ([]Record, error) {
	log := e.logger()
	docs, err := e.Repo.ListActiveFamilyDocuments(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list family documents")
	}
	orgs, err := e.organisations(ctx)
	if err != nil {
		return nil, err
	}

	families := map[string]familyView{}
	res := make([]Record, 0, len(docs))
	for _, d := range docs {
		fam, ok := families[d.FamilyImportID]
		if !ok {
			fam, err = e.loadFamily(ctx, d.FamilyImportID)
			if errors.Is(err, repo.ErrNotFound) {
				log.Warn("family document without family", zap.String("import_id", d.ImportID))
				continue
			}
			if err != nil {
				return nil, err
			}
			families[d.FamilyImportID] = fam
		}
		pd, err := e.Repo.GetPhysicalDocument(ctx, d.PhysicalDocumentID)
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("family document without physical document", zap.String("import_id", d.ImportID))
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "load physical document for %s", d.ImportID)
		}
		slugs, err := e.Repo.ListSlugs(ctx, repo.SlugOwnerFamilyDocument, d.ImportID)
		if err != nil {
			return nil, err
		}
		docMeta, err := e.Repo.ListDocumentMetadata(ctx, d.ImportID)
		if err != nil {
			return nil, err
		}

		metadata := map[string][]string{}
		for k, v := range fam.metadata {
			metadata[k] = v
		}
		for _, m := range docMeta {
			flatten(metadata, "document.", m.Value)
		}
		org := orgs[fam.family.OrganisationID]
		rec := Record{
			ImportID:       d.ImportID,
			Name:           pd.Title,
			Description:    fam.family.Description,
			Category:       string(fam.family.Category),
			PublicationTS:  publicationTS(fam.family.PublishedDate),
			Slug:           first(slugs),
			FamilyImportID: d.FamilyImportID,
			FamilySlug:     fam.slug,
			Type:           d.DocumentType,
			Source:         org.Name,
			CorpusImportID: org.CorpusImportID,
			Geography:      first(fam.family.Geographies),
			Geographies:    fam.family.Geographies,
			Languages:      pd.Languages,
			Metadata:       metadata,
			SourceURL:      pd.SourceURL,
			DownloadURL:    e.downloadURL(pd),
			MD5Sum:         pd.MD5Sum,
		}
		res = append(res, rec)
	}

	active, err := e.Repo.CountActiveFamilyDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if len(res) != active {
		log.Warn("export count mismatch", zap.Int("records", len(res)), zap.Int("active_documents", active))
	}
	return res, nil
}

type familyView struct {
	family   domain.Family
	slug     string
	metadata map[string][]string
}

func (e Exporter) loadFamily(ctx context.Context, importID string) (familyView, error) {
	f, err := e.Repo.GetFamily(ctx, importID)
	if err != nil {
		return familyView{}, err
	}
	slugs, err := e.Repo.ListSlugs(ctx, repo.SlugOwnerFamily, importID)
	if err != nil {
		return familyView{}, err
	}
	md, err := e.Repo.ListFamilyMetadata(ctx, importID)
	if err != nil {
		return familyView{}, err
	}
	v := familyView{family: f, slug: first(slugs), metadata: map[string][]string{}}
	for _, m := range md {
		flatten(v.metadata, "family.", m.Value)
	}
	return v, nil
}

func (e Exporter) organisations(ctx context.Context) (map[int64]domain.Organisation, error) {
	orgs, err := e.Repo.ListOrganisations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list organisations")
	}
	res := make(map[int64]domain.Organisation, len(orgs))
	for _, o := range orgs {
		res[o.ID] = o
	}
	return res, nil
}

func (e Exporter) downloadURL(pd domain.PhysicalDocument) string {
	if pd.CDNObject == "" || e.CDNBase == "" {
		return pd.SourceURL
	}
	return strings.TrimRight(e.CDNBase, "/") + "/" + strings.TrimLeft(pd.CDNObject, "/")
}

// flatten merges values into dst under prefix+key. Values already present
// under the key, from another taxonomy, are not repeated.
func flatten(dst map[string][]string, prefix string, src domain.Metadata) {
	for k, vals := range src {
		key := prefix + k
		for _, v := range vals {
			if !slices.Contains(dst[key], v) {
				dst[key] = append(dst[key], v)
			}
		}
	}
}

func publicationTS(published *string) time.Time {
	if published == nil || *published == "" {
		return FallbackPublicationTS
	}
	t, err := time.Parse("2006-01-02", *published)
	if err != nil {
		return FallbackPublicationTS
	}
	return t
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

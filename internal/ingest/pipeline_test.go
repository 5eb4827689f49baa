package ingest_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"navigator/internal/db"
	"navigator/internal/domain"
	"navigator/internal/events"
	"navigator/internal/ingest"
	"navigator/internal/ingest/rows"
	"navigator/internal/migrate"
	"navigator/internal/repo"
	"navigator/internal/taxonomy"
)

type testEnv struct {
	Pipeline ingest.Pipeline
	Repo     repo.Repo
	Ctx      context.Context
	CCLW     domain.Organisation
	UNFCCC   domain.Organisation
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	reg, err := taxonomy.Default()
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	cclw, err := r.GetOrganisationByName(ctx, "CCLW")
	require.NoError(t, err)
	unfccc, err := r.GetOrganisationByName(ctx, "UNFCCC")
	require.NoError(t, err)
	return testEnv{
		Pipeline: ingest.Pipeline{
			DB:         conn,
			Repo:       r,
			Events:     events.Writer{DB: conn, Now: now},
			Taxonomies: reg,
			Logger:     zap.NewNop(),
			Now:        now,
		},
		Repo:   r,
		Ctx:    ctx,
		CCLW:   cclw,
		UNFCCC: unfccc,
	}
}

func csvOf(t *testing.T, schema rows.Schema, records ...map[string]string) []byte {
	t.Helper()
	var header []string
	for _, c := range schema.Columns {
		header = append(header, c.Name)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(header))
	for _, r := range records {
		rec := make([]string, len(header))
		for i, h := range header {
			rec[i] = r[h]
		}
		require.NoError(t, w.Write(rec))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.Bytes()
}

func cclwDoc(n int, family string, overrides map[string]string) map[string]string {
	r := map[string]string{
		"ID":                  fmt.Sprint(n),
		"Document ID":         fmt.Sprint(100 + n),
		"Collection name":     "UK climate framework",
		"Collection summary":  "Primary UK climate legislation",
		"Document title":      fmt.Sprintf("Document %d", n),
		"Family name":         "Family " + family,
		"Family summary":      "Summary of family " + family,
		"Family ID":           family,
		"Document role":       "MAIN",
		"Geography ISO":       "GBR",
		"Documents":           fmt.Sprintf("https://example.org/doc-%d.pdf|en", n),
		"Category":            "Law",
		"Sectors":             "Energy;Transport",
		"Frameworks":          "Mitigation",
		"Responses":           "Mitigation",
		"Document Type":       "Act",
		"Language":            "English",
		"Keywords":            "Hydrogen",
		"Geography":           "United Kingdom",
		"CPR Document ID":     fmt.Sprintf("CCLW.legislative.%d.0", n),
		"CPR Family ID":       "CCLW.family." + family + ".0",
		"CPR Collection ID":   "CCLW.collection.1.0",
		"Document variant":    "Original Language",
		"CPR Document Status": "Published",
	}
	for k, v := range overrides {
		r[k] = v
	}
	return r
}

func cclwEvent(id, family, eventType, date string) map[string]string {
	return map[string]string{
		"Id":             "1",
		"Eventable type": "Legislation",
		"Event type":     eventType,
		"Title":          eventType,
		"Date":           date,
		"CPR Event ID":   id,
		"CPR Family ID":  family,
		"Event Status":   "OK",
	}
}

func unfcccDoc(n int, collections string) map[string]string {
	return map[string]string{
		"Category":            "UNFCCC",
		"md5sum":              fmt.Sprintf("md5-%d", n),
		"Submission Type":     "Nationally Determined Contribution",
		"Family Name":         fmt.Sprintf("NDC %d", n),
		"Document Title":      fmt.Sprintf("NDC %d document", n),
		"Documents":           fmt.Sprintf("https://unfccc.int/ndc-%d.pdf|fr", n),
		"Author":              "France",
		"Author Type":         "Party",
		"Geography":           "France",
		"Geography ISO":       "FRA",
		"Date":                "2022-11-01",
		"Document Role":       "MAIN",
		"Language":            "fr",
		"CPR Collection ID":   collections,
		"CPR Document ID":     fmt.Sprintf("UNFCCC.document.%d.0", n),
		"CPR Family ID":       fmt.Sprintf("UNFCCC.family.%d.0", n),
		"CPR Document Status": "Published",
	}
}

func allEmpty(t *testing.T, ic *ingest.IngestContext) {
	t.Helper()
	for _, o := range ic.Outcomes {
		assert.Truef(t, o.Changes.Empty(), "row %d reported changes: %+v", o.Row, o.Changes)
	}
}

func TestIngestCCLWCreatesEntitiesAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{
		Documents: csvOf(t, rows.CCLWDocumentSchema,
			cclwDoc(1, "1", nil),
			cclwDoc(2, "1", nil),
			cclwDoc(3, "2", map[string]string{"CPR Collection ID": "n/a"}),
		),
		Events: csvOf(t, rows.EventSchema,
			cclwEvent("CCLW.event.1.0", "CCLW.family.1.0", "Passed/Approved", "2008-11-26"),
			cclwEvent("CCLW.event.2.0", "CCLW.family.1.0", "Amended", "2019-06-27"),
		),
	}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "5 Rows, 0 Failures, 0 Resolved", ic.Summary().Message())
	require.Len(t, ic.Outcomes, 5)
	assert.True(t, ic.Outcomes[0].Changes.Family.Created)
	assert.Equal(t, []string{"CCLW.collection.1.0"}, ic.Outcomes[0].Changes.CollectionLinks)
	assert.Nil(t, ic.Outcomes[1].Changes.Family)
	assert.Empty(t, ic.Outcomes[1].Changes.CollectionLinks)
	assert.Nil(t, ic.Outcomes[2].Changes.Collection)

	docs, err := env.Repo.CountActiveFamilyDocuments(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, docs)
	physical, err := env.Repo.CountPhysicalDocuments(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, physical)
	families, err := env.Repo.ListFamilies(env.Ctx, env.CCLW.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CCLW.family.1.0", "CCLW.family.2.0"}, families)

	fam, err := env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryLegislative, fam.Category)
	assert.Equal(t, []string{"GBR"}, fam.Geographies)
	require.NotNil(t, fam.PublishedDate)
	assert.Equal(t, "2008-11-26", *fam.PublishedDate)
	require.NotNil(t, fam.LastUpdatedDate)
	assert.Equal(t, "2019-06-27", *fam.LastUpdatedDate)

	slugs, err := env.Repo.ListSlugs(env.Ctx, repo.SlugOwnerFamily, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"family-1"}, slugs)

	md, err := env.Repo.ListFamilyMetadata(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	require.Len(t, md, 1)
	assert.Equal(t, []string{"Energy", "Transport"}, md[0].Value["sector"])
	docMD, err := env.Repo.ListDocumentMetadata(env.Ctx, "CCLW.legislative.1.0")
	require.NoError(t, err)
	require.Len(t, docMD, 1)
	assert.Equal(t, []string{"Act"}, docMD[0].Value["document_type"])

	again, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-2")
	require.NoError(t, err)
	assert.Len(t, again.Outcomes, 5)
	allEmpty(t, again)
	n, err := env.Repo.CountEvents(env.Ctx, "run-2")
	require.NoError(t, err)
	assert.Zero(t, n)
	physical, err = env.Repo.CountPhysicalDocuments(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, physical)
}

func TestIngestResolvesNearMissSector(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Sectors": "Transportation"}))}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	require.Len(t, ic.Results, 1)
	assert.Equal(t, ingest.ResultResolved, ic.Results[0].Type)
	assert.Contains(t, ic.Results[0].Details, `"Transportation" -> "Transport"`)
	assert.Equal(t, "1 Rows, 0 Failures, 1 Resolved", ic.Summary().Message())

	md, err := env.Repo.ListFamilyMetadata(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	require.Len(t, md, 1)
	assert.Equal(t, []string{"Transport"}, md[0].Value["sector"])
}

func TestIngestUnresolvedSectorSkipsMetadataOnly(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Sectors": "Energy;fish"}))}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	require.Len(t, ic.Errors(), 1)
	assert.Contains(t, ic.Errors()[0].Details, `unrecognised: "fish"`)

	md, err := env.Repo.ListFamilyMetadata(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Empty(t, md)
	// entity writes stay in place when only the metadata failed
	_, err = env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	assert.NoError(t, err)
}

func TestIngestRepointsChangedSourceURL(t *testing.T) {
	env := newTestEnv(t)
	first := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema, cclwDoc(1, "1", nil))}
	_, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, first, "run-1")
	require.NoError(t, err)
	before, err := env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.1.0")
	require.NoError(t, err)

	moved := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Documents": "https://example.org/moved.pdf|en"}))}
	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, moved, "run-2")
	require.NoError(t, err)
	require.Len(t, ic.Outcomes, 1)
	ch := ic.Outcomes[0].Changes
	require.NotNil(t, ch.PhysicalDocument)
	assert.True(t, ch.PhysicalDocument.Created)
	require.NotNil(t, ch.FamilyDocument)
	assert.Contains(t, ch.FamilyDocument.Fields, "physical_document_id")

	after, err := env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.1.0")
	require.NoError(t, err)
	assert.NotEqual(t, before.PhysicalDocumentID, after.PhysicalDocumentID)
	pd, err := env.Repo.GetPhysicalDocument(env.Ctx, after.PhysicalDocumentID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/moved.pdf", pd.SourceURL)
	assert.Equal(t, []string{"eng"}, pd.Languages)

	old, err := env.Repo.GetPhysicalDocument(env.Ctx, before.PhysicalDocumentID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/doc-1.pdf", old.SourceURL)
	n, err := env.Repo.CountPhysicalDocuments(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func fieldNames(cs *ingest.ChangeSet) []string {
	if cs == nil {
		return nil
	}
	names := make([]string, 0, len(cs.Fields))
	for k := range cs.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func TestIngestUpdatesOnlyChangedFields(t *testing.T) {
	env := newTestEnv(t)
	first := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema, cclwDoc(1, "1", nil))}
	_, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, first, "run-1")
	require.NoError(t, err)
	before, err := env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.1.0")
	require.NoError(t, err)

	changed := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema, cclwDoc(1, "1", map[string]string{
		"Collection name":     "UK climate framework (revised)",
		"Category":            "Policy",
		"Document title":      "Document 1 (consolidated)",
		"Document role":       "AMENDMENT",
		"Document Type":       "Action Plan",
		"Document variant":    "",
		"CPR Document Status": "Deleted",
	}))}
	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, changed, "run-2")
	require.NoError(t, err)
	assert.Empty(t, ic.Errors())
	require.Len(t, ic.Outcomes, 1)
	ch := ic.Outcomes[0].Changes

	require.NotNil(t, ch.Collection)
	assert.False(t, ch.Collection.Created)
	assert.Equal(t, map[string]any{"title": "UK climate framework (revised)"}, ch.Collection.Fields)

	require.NotNil(t, ch.Family)
	assert.Equal(t, map[string]any{"category": "Executive"}, ch.Family.Fields)

	require.NotNil(t, ch.PhysicalDocument)
	assert.False(t, ch.PhysicalDocument.Created)
	assert.Equal(t, map[string]any{"title": "Document 1 (consolidated)"}, ch.PhysicalDocument.Fields)

	require.NotNil(t, ch.FamilyDocument)
	assert.Equal(t, []string{"document_role", "document_status", "document_type", "variant_name"}, fieldNames(ch.FamilyDocument))
	assert.Equal(t, "", ch.FamilyDocument.Fields["variant_name"])
	assert.Empty(t, ch.CollectionLinks)
	assert.Nil(t, ch.FamilySlug)
	assert.Nil(t, ch.DocumentSlug)

	after, err := env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.1.0")
	require.NoError(t, err)
	assert.Equal(t, before.PhysicalDocumentID, after.PhysicalDocumentID)
	assert.Equal(t, "AMENDMENT", after.DocumentRole)
	assert.Equal(t, "Action Plan", after.DocumentType)
	assert.Equal(t, "", after.VariantName)
	assert.Equal(t, domain.StatusDeleted, after.Status)
	pd, err := env.Repo.GetPhysicalDocument(env.Ctx, after.PhysicalDocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Document 1 (consolidated)", pd.Title)
	fam, err := env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryExecutive, fam.Category)
	colls, err := env.Repo.ListFamilyCollections(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	require.Len(t, colls, 1)
	assert.Equal(t, "UK climate framework (revised)", colls[0].Title)
	assert.Equal(t, "Primary UK climate legislation", colls[0].Description)

	again, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, changed, "run-3")
	require.NoError(t, err)
	allEmpty(t, again)
}

func TestIngestClearsCollectionSummaryWithinARun(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", nil),
		cclwDoc(2, "2", map[string]string{"Collection summary": ""}),
	)}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	assert.Empty(t, ic.Errors())
	require.Len(t, ic.Outcomes, 2)
	require.NotNil(t, ic.Outcomes[1].Changes.Collection)
	assert.Equal(t, map[string]any{"description": ""}, ic.Outcomes[1].Changes.Collection.Fields)
	assert.Equal(t, []string{"CCLW.collection.1.0"}, ic.Outcomes[1].Changes.CollectionLinks)

	_, err = env.Repo.GetFamily(env.Ctx, "CCLW.family.2.0")
	require.NoError(t, err)
	_, err = env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.2.0")
	require.NoError(t, err)
	colls, err := env.Repo.ListFamilyCollections(env.Ctx, "CCLW.family.2.0")
	require.NoError(t, err)
	require.Len(t, colls, 1)
	assert.Equal(t, "", colls[0].Description)
}

func TestIngestClearsFamilySummaryOnRerun(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", nil))}, "run-1")
	require.NoError(t, err)

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Family summary": ""}))}, "run-2")
	require.NoError(t, err)
	assert.Empty(t, ic.Errors())
	require.Len(t, ic.Outcomes, 1)
	require.NotNil(t, ic.Outcomes[0].Changes.Family)
	assert.Equal(t, map[string]any{"description": ""}, ic.Outcomes[0].Changes.Family.Fields)

	fam, err := env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Equal(t, "", fam.Description)
	assert.Equal(t, "Family 1", fam.Title)
}

func TestFailedRowDoesNotDefineFamily(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Geography ISO": "ZZZ", "Family name": "Wrong"}),
		cclwDoc(2, "1", nil),
		cclwDoc(3, "1", map[string]string{"Family name": "Wrong"}),
	)}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	errs := ic.Errors()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Details, "Row 1:")
	assert.Contains(t, errs[0].Details, "ZZZ")
	assert.Contains(t, errs[1].Details, "Row 3:")
	assert.Contains(t, errs[1].Details, "row 2")

	fam, err := env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Equal(t, "Family 1", fam.Title)
	_, err = env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.2.0")
	assert.NoError(t, err)
}

func TestValidateFailedRowDoesNotDefineFamily(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Category": "Unknown", "Family name": "Wrong"}),
		cclwDoc(2, "1", nil),
	)}

	ic, err := env.Pipeline.Validate(env.Ctx, env.CCLW, in)
	require.NoError(t, err)
	assert.Equal(t, "2 Rows, 1 Failures, 0 Resolved", ic.Summary().Message())
	require.Len(t, ic.Errors(), 1)
	assert.Contains(t, ic.Errors()[0].Details, "Row 1:")
}

func TestIngestUNFCCCReportsUndefinedCollection(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{
		Collections: csvOf(t, rows.CollectionSchema, map[string]string{
			"CPR Collection ID":  "Y",
			"Collection name":    "COP 27",
			"Collection summary": "Submissions to COP 27",
		}),
		Documents: csvOf(t, rows.UNFCCCDocumentSchema, unfcccDoc(1, "X")),
	}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.UNFCCC, in, "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrCollectionMismatch))
	require.NotNil(t, ic)
	errs := ic.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Details, `"X" was referenced and not defined`)

	var note bool
	for _, r := range ic.Results {
		if r.Type == ingest.ResultOK && r.Details != "" {
			note = true
			assert.Contains(t, r.Details, `"Y" was defined and not referenced`)
		}
	}
	assert.True(t, note)
}

func TestIngestUNFCCCLinksDefinedCollections(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{
		Collections: csvOf(t, rows.CollectionSchema, map[string]string{
			"CPR Collection ID": "UNFCCC.collection.1",
			"Collection name":   "COP 27",
		}),
		Documents: csvOf(t, rows.UNFCCCDocumentSchema, unfcccDoc(1, "UNFCCC.collection.1"), unfcccDoc(2, "n/a")),
	}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.UNFCCC, in, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "3 Rows, 0 Failures, 0 Resolved", ic.Summary().Message())
	assert.Equal(t, []string{"UNFCCC.collection.1"}, ic.Outcomes[1].Changes.CollectionLinks)

	colls, err := env.Repo.ListFamilyCollections(env.Ctx, "UNFCCC.family.1.0")
	require.NoError(t, err)
	require.Len(t, colls, 1)
	assert.Equal(t, "COP 27", colls[0].Title)

	evts, err := env.Repo.ListFamilyEvents(env.Ctx, "UNFCCC.family.1.0")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "UNFCCC.document.1.0.event", evts[0].ImportID)
	assert.Equal(t, domain.EventTypePassed, evts[0].EventType)
	fam, err := env.Repo.GetFamily(env.Ctx, "UNFCCC.family.1.0")
	require.NoError(t, err)
	require.NotNil(t, fam.PublishedDate)
	assert.Equal(t, "2022-11-01", *fam.PublishedDate)

	md, err := env.Repo.ListFamilyMetadata(env.Ctx, "UNFCCC.family.1.0")
	require.NoError(t, err)
	require.Len(t, md, 1)
	assert.Equal(t, []string{"France"}, md[0].Value["author"])

	again, err := env.Pipeline.Ingest(env.Ctx, env.UNFCCC, in, "run-2")
	require.NoError(t, err)
	allEmpty(t, again)
}

func TestIngestFamilyConflictKeepsFirstTitle(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", nil),
		cclwDoc(2, "1", map[string]string{"Family name": "Renamed"}),
	)}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	errs := ic.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Details, "Row 2:")
	assert.Len(t, ic.Outcomes, 1)

	fam, err := env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	require.NoError(t, err)
	assert.Equal(t, "Family 1", fam.Title)
	_, err = env.Repo.GetFamilyDocument(env.Ctx, "CCLW.legislative.2.0")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestIngestSchemaMismatchProcessesNoRows(t *testing.T) {
	env := newTestEnv(t)
	docs := csvOf(t, rows.CCLWDocumentSchema, cclwDoc(1, "1", nil))
	broken := rows.Schema{Kind: rows.KindEvent}
	for _, c := range rows.EventSchema.Columns {
		if c.Name != "Date" && c.Name != "Title" {
			broken.Columns = append(broken.Columns, c)
		}
	}
	in := ingest.Inputs{Documents: docs, Events: csvOf(t, broken)}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.Error(t, err)
	assert.Nil(t, ic)
	assert.True(t, errors.Is(err, rows.ErrSchemaMismatch))
	var schemaErr *rows.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"Date", "Title"}, schemaErr.Missing)

	families, err := env.Repo.ListFamilies(env.Ctx, env.CCLW.ID)
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestIngestRowFailuresDoNotStopTheFile(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{
		Documents: csvOf(t, rows.CCLWDocumentSchema,
			cclwDoc(1, "1", map[string]string{"Geography ISO": "ZZZ"}),
			map[string]string{},
			cclwDoc(2, "2", map[string]string{"Documents": "https://a.org/1.pdf|en;https://a.org/2.pdf|fr"}),
			cclwDoc(3, "3", nil),
		),
		Events: csvOf(t, rows.EventSchema,
			cclwEvent("CCLW.event.9.0", "CCLW.family.9.0", "Passed/Approved", "2020-01-01")),
	}

	ic, err := env.Pipeline.Ingest(env.Ctx, env.CCLW, in, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "4 Rows, 3 Failures, 0 Resolved", ic.Summary().Message())
	errs := ic.Errors()
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Details, "Row 1:")
	assert.Contains(t, errs[0].Details, "ZZZ")
	assert.Contains(t, errs[1].Details, "Row 3:")
	assert.Contains(t, errs[2].Details, "unknown family")

	_, err = env.Repo.GetFamily(env.Ctx, "CCLW.family.1.0")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = env.Repo.GetFamily(env.Ctx, "CCLW.family.3.0")
	assert.NoError(t, err)
}

func TestValidateWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	in := ingest.Inputs{Documents: csvOf(t, rows.CCLWDocumentSchema,
		cclwDoc(1, "1", map[string]string{"Sectors": "Transportation"}),
		cclwDoc(2, "2", map[string]string{"Document Type": ""}),
	)}

	ic, err := env.Pipeline.Validate(env.Ctx, env.CCLW, in)
	require.NoError(t, err)
	assert.Equal(t, "2 Rows, 1 Failures, 1 Resolved", ic.Summary().Message())
	assert.Contains(t, ic.Errors()[0].Details, "Row 2 is blank for document_type - which is not allowed.")

	families, err := env.Repo.ListFamilies(env.Ctx, env.CCLW.ID)
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestUnsupportedOrganisation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Pipeline.Validate(env.Ctx, domain.Organisation{Name: "Other"}, ingest.Inputs{Documents: []byte("a\n")})
	assert.True(t, errors.Is(err, taxonomy.ErrUnknownOrganisation))
}

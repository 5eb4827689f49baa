package navigatorsdk_test

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"navigator/internal/artifacts"
	"navigator/internal/config"
	"navigator/internal/db"
	"navigator/internal/engine"
	"navigator/internal/migrate"
	"navigator/internal/server"
	"navigator/internal/taxonomy"
	navigatorsdk "navigator/sdk/go"
)

const documentsCSV = `ID,Document ID,Collection name,Collection summary,Document title,Family name,Family summary,Family ID,Document role,Applies to ID,Geography ISO,Documents,Category,Events,Sectors,Instruments,Frameworks,Responses,Natural Hazards,Document Type,Year,Language,Keywords,Geography,Parent Legislation,Comment,CPR Document ID,CPR Family ID,CPR Collection ID,CPR Family Slug,CPR Document Slug,Document variant,CPR Document Status
1,11,,,Coastal strategy text,Coastal Strategy,Protect the coast,1,MAIN,,FRA,https://example.org/coast.pdf,Policy,,Coastal zones,,,,,Strategy,2018,,,France,,,CCLW.doc.7.0,CCLW.family.7.0,n/a,,,,
`

func startServer(t *testing.T) (*navigatorsdk.Client, chan engine.IngestReport) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	reg, err := taxonomy.Default()
	require.NoError(t, err)
	e := engine.New(conn, config.Default(), reg, artifacts.LocalStore{Dir: t.TempDir()}, zap.NewNop())
	runs := make(chan engine.IngestReport, 1)
	e.RunDone = func(r engine.IngestReport, _ error) { runs <- r }
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return navigatorsdk.New("http://" + ln.Addr().String()), runs
}

func TestClientRoundTrip(t *testing.T) {
	client, runs := startServer(t)
	ctx := context.Background()

	sum, err := client.Validate(ctx, "CCLW", navigatorsdk.Files{Documents: documentsCSV})
	require.NoError(t, err)
	assert.Equal(t, "1 Rows, 0 Failures, 0 Resolved", sum.Message)
	assert.Empty(t, sum.Errors)

	prefix, err := client.StartIngest(ctx, "CCLW", navigatorsdk.Files{Documents: documentsCSV})
	require.NoError(t, err)
	select {
	case r := <-runs:
		assert.Equal(t, prefix, r.Prefix)
	case <-time.After(10 * time.Second):
		t.Fatal("ingest run did not finish")
	}

	fam, err := client.Family(ctx, "CCLW.family.7.0")
	require.NoError(t, err)
	assert.Equal(t, "Coastal Strategy", fam.Title)
	assert.Equal(t, []string{"coastal-strategy"}, fam.Slugs)

	cdn := "navigator/coast.pdf"
	doc, err := client.UpdateDocument(ctx, "CCLW.doc.7.0", navigatorsdk.DocumentUpdate{CDNObject: &cdn})
	require.NoError(t, err)
	assert.Equal(t, cdn, doc.Physical.CDNObject)

	records, err := client.PipelineExport(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "coastal-strategy-text", records[0].Slug)
	assert.Equal(t, "coastal-strategy", records[0].FamilySlug)

	events, err := client.Events(ctx, "", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestClientErrors(t *testing.T) {
	client, _ := startServer(t)
	_, err := client.Family(context.Background(), "CCLW.family.404")
	var apiErr *navigatorsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}

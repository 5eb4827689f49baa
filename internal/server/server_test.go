package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"navigator/internal/artifacts"
	"navigator/internal/config"
	"navigator/internal/db"
	"navigator/internal/engine"
	"navigator/internal/export"
	"navigator/internal/migrate"
	"navigator/internal/taxonomy"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Runs   chan engine.IngestReport
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg, err := taxonomy.Default()
	if err != nil {
		t.Fatalf("load taxonomies: %v", err)
	}
	e := engine.New(conn, config.Default(), reg, artifacts.LocalStore{Dir: t.TempDir()}, zap.NewNop())
	runs := make(chan engine.IngestReport, 4)
	e.RunDone = func(r engine.IngestReport, _ error) { runs <- r }
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Runs:   runs,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

const documentsCSV = `ID,Document ID,Collection name,Collection summary,Document title,Family name,Family summary,Family ID,Document role,Applies to ID,Geography ISO,Documents,Category,Events,Sectors,Instruments,Frameworks,Responses,Natural Hazards,Document Type,Year,Language,Keywords,Geography,Parent Legislation,Comment,CPR Document ID,CPR Family ID,CPR Collection ID,CPR Family Slug,CPR Document Slug,Document variant,CPR Document Status
1,11,,,Energy act,Energy Act,Act on energy,1,MAIN,,GBR,https://example.org/act.pdf,Law,,Energy,,,,,Act,2019,,,United Kingdom,,,CCLW.doc.1.0,CCLW.family.1.0,n/a,,,,
2,12,,,Fish plan,Fish Plan,Plan for fish,2,MAIN,,GBR,https://example.org/fish.pdf,Policy,,fish,,,,,Plan,2020,,,United Kingdom,,,CCLW.doc.2.0,CCLW.family.2.0,n/a,,,,
`

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestValidateReportsWithoutWriting(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/validate/CCLW", map[string]any{
		"documents": documentsCSV,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var sum engine.ValidationSummary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, "2 Rows, 1 Failures, 0 Resolved", sum.Message)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0].Details, "Row 2")

	famRes, famBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/families/CCLW.family.1.0", nil, nil)
	assert.Equal(t, http.StatusNotFound, famRes.StatusCode, string(famBody))
}

func TestValidateSchemaMismatch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/validate/CCLW", map[string]any{
		"documents": "ID,Document ID\n1,2\n",
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "schema_mismatch", env.Error.Code)
	assert.Contains(t, env.Error.Details["missing"], "CPR Document ID")
}

func TestValidateUnknownOrganisation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/validate/ACME", map[string]any{
		"documents": documentsCSV,
	}, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(body))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "unknown_organisation", env.Error.Code)
}

func TestIngestRequiresDocuments(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/CCLW", map[string]any{
		"documents": "",
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "missing_input", env.Error.Code)
}

func ingestAndWait(t *testing.T, srv *testServer) engine.IngestReport {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/ingest/CCLW", map[string]any{
		"documents": documentsCSV,
	}, nil)
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(body))
	var accepted IngestAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.True(t, strings.HasPrefix(accepted.Prefix, "CCLW/"), accepted.Prefix)

	select {
	case r := <-srv.Runs:
		require.Equal(t, accepted.Prefix, r.Prefix)
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("ingest run did not finish")
	}
	return engine.IngestReport{}
}

func TestIngestThenReadBack(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	report := ingestAndWait(t, srv)
	assert.Equal(t, "2 Rows, 1 Failures, 0 Resolved", report.Message)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/families/CCLW.family.1.0", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var fam engine.FamilyView
	require.NoError(t, json.Unmarshal(body, &fam))
	assert.Equal(t, "Energy Act", fam.Title)
	require.Len(t, fam.Documents, 1)
	assert.Equal(t, "CCLW.doc.1.0", fam.Documents[0].ImportID)

	expRes, expBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pipeline-export", nil, nil)
	require.Equal(t, http.StatusOK, expRes.StatusCode, string(expBody))
	var records []export.Record
	require.NoError(t, json.Unmarshal(expBody, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "CCLW.doc.1.0", records[0].ImportID)
	assert.Equal(t, []string{"Energy"}, records[0].Metadata["family.sector"])

	evRes, evBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?run_id="+report.RunID, nil, nil)
	require.Equal(t, http.StatusOK, evRes.StatusCode, string(evBody))
	var events []map[string]any
	require.NoError(t, json.Unmarshal(evBody, &events))
	assert.NotEmpty(t, events)
}

func TestUpdateDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ingestAndWait(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/documents/CCLW.doc.1.0", map[string]any{
		"title":     "Energy act (amended)",
		"languages": []string{"fr"},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var doc engine.DocumentView
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "Energy act (amended)", doc.Physical.Title)
	assert.Equal(t, []string{"fra"}, doc.Physical.Languages)
	require.NotNil(t, doc.Changes)

	missRes, missBody := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/documents/CCLW.doc.9.9", map[string]any{
		"title": "nope",
	}, nil)
	require.Equal(t, http.StatusNotFound, missRes.StatusCode, string(missBody))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(missBody, &env))
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestOpenAPISpec(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas map[string]any
	require.NoError(t, json.Unmarshal(body, &oas))
	paths, ok := oas["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/v0/health", "/v0/ingest/validate/{org}", "/v0/ingest/{org}", "/v0/documents/{import_id}", "/v0/families/{import_id}", "/v0/pipeline-export"} {
		assert.Contains(t, paths, p)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	const n = 8
	bodies := make([][]byte, n)
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			statuses[i] = res.StatusCode
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, statuses[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
	assert.NotEmpty(t, bodies[0])
}

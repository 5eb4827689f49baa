package navigatorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Navigator HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Files are the raw csv files of one ingest. Documents is required.
type Files struct {
	Documents   string `json:"documents"`
	Events      string `json:"events,omitempty"`
	Collections string `json:"collections,omitempty"`
}

// Result is one validation or ingest message.
type Result struct {
	Type    string `json:"type"`
	Details string `json:"details"`
}

// ValidationSummary is returned by Validate.
type ValidationSummary struct {
	Message string   `json:"message"`
	Errors  []Result `json:"errors"`
	Results []Result `json:"results,omitempty"`
}

// PhysicalDocument is the file behind a family document (partial).
type PhysicalDocument struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	SourceURL   string   `json:"source_url"`
	MD5Sum      string   `json:"md5_sum,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	CDNObject   string   `json:"cdn_object,omitempty"`
	Languages   []string `json:"languages"`
}

// Document is the API document model (partial).
type Document struct {
	ImportID       string           `json:"import_id"`
	FamilyImportID string           `json:"family_import_id"`
	DocumentType   string           `json:"document_type,omitempty"`
	DocumentRole   string           `json:"document_role,omitempty"`
	Status         string           `json:"document_status"`
	Physical       PhysicalDocument `json:"physical_document"`
	Slugs          []string         `json:"slugs"`
}

// DocumentUpdate mirrors the PUT body; nil fields are left unchanged.
type DocumentUpdate struct {
	Title       *string  `json:"title,omitempty"`
	MD5Sum      *string  `json:"md5_sum,omitempty"`
	ContentType *string  `json:"content_type,omitempty"`
	CDNObject   *string  `json:"cdn_object,omitempty"`
	Languages   []string `json:"languages,omitempty"`
}

// Family is the API family model (partial).
type Family struct {
	ImportID    string     `json:"import_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Geographies []string   `json:"geographies"`
	Slugs       []string   `json:"slugs"`
	Documents   []Document `json:"documents"`
}

// ExportRecord is one row of the pipeline export (partial).
type ExportRecord struct {
	ImportID       string              `json:"import_id"`
	Name           string              `json:"name"`
	Slug           string              `json:"slug"`
	FamilySlug     string              `json:"family_slug"`
	FamilyImportID string              `json:"family_import_id"`
	PublicationTS  time.Time           `json:"publication_ts"`
	SourceURL      string              `json:"source_url"`
	DownloadURL    string              `json:"download_url"`
	Languages      []string            `json:"languages"`
	Metadata       map[string][]string `json:"metadata"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Validate checks files for an organisation without writing anything.
func (c *Client) Validate(ctx context.Context, org string, files Files) (ValidationSummary, error) {
	var resp ValidationSummary
	err := c.do(ctx, http.MethodPost, "ingest/validate/"+url.PathEscape(org), files, &resp)
	return resp, err
}

// StartIngest starts a background ingest and returns its artifact prefix.
func (c *Client) StartIngest(ctx context.Context, org string, files Files) (string, error) {
	var resp struct {
		Prefix string `json:"prefix"`
	}
	err := c.do(ctx, http.MethodPost, "ingest/"+url.PathEscape(org), files, &resp)
	return resp.Prefix, err
}

// UpdateDocument applies a partial update to a document.
func (c *Client) UpdateDocument(ctx context.Context, importID string, upd DocumentUpdate) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPut, "documents/"+url.PathEscape(importID), upd, &resp)
	return resp, err
}

// Family fetches a family by import id.
func (c *Client) Family(ctx context.Context, importID string) (Family, error) {
	var resp Family
	err := c.do(ctx, http.MethodGet, "families/"+url.PathEscape(importID), nil, &resp)
	return resp, err
}

// PipelineExport returns the current export records.
func (c *Client) PipelineExport(ctx context.Context) ([]ExportRecord, error) {
	var resp []ExportRecord
	err := c.do(ctx, http.MethodGet, "pipeline-export", nil, &resp)
	return resp, err
}

// Events returns recent events, optionally for one run.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]Event, error) {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

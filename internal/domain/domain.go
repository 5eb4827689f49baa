package domain

import (
	"fmt"
	"strings"
)

// FamilyCategory classifies a family by the kind of instrument it describes.
type FamilyCategory string

const (
	CategoryExecutive   FamilyCategory = "Executive"
	CategoryLegislative FamilyCategory = "Legislative"
	CategoryUNFCCC      FamilyCategory = "UNFCCC"
)

// ParseFamilyCategory accepts the canonical names case-insensitively plus the
// CCLW spreadsheet aliases Policy and Law.
func ParseFamilyCategory(v string) (FamilyCategory, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "executive", "policy":
		return CategoryExecutive, nil
	case "legislative", "law":
		return CategoryLegislative, nil
	case "unfccc":
		return CategoryUNFCCC, nil
	}
	return "", fmt.Errorf("unknown family category %q", v)
}

type DocumentStatus string

const (
	StatusCreated   DocumentStatus = "Created"
	StatusPublished DocumentStatus = "Published"
	StatusDeleted   DocumentStatus = "Deleted"
)

// ParseDocumentStatus treats blank as Published.
func ParseDocumentStatus(v string) (DocumentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "published":
		return StatusPublished, nil
	case "created":
		return StatusCreated, nil
	case "deleted":
		return StatusDeleted, nil
	}
	return "", fmt.Errorf("unknown document status %q", v)
}

const (
	EventStatusOK = "OK"

	// EventTypePassed drives a family's published date.
	EventTypePassed = "Passed/Approved"
)

type Organisation struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CorpusImportID string `json:"corpus_import_id"`
}

type Geography struct {
	ID      int64  `json:"id"`
	Value   string `json:"value"`
	Display string `json:"display_value"`
	Type    string `json:"type"`
}

type Language struct {
	ID    int64  `json:"id"`
	Code  string `json:"language_code"`
	Part1 string `json:"part1_code,omitempty"`
	Name  string `json:"name"`
}

type Collection struct {
	ImportID       string `json:"import_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	OrganisationID int64  `json:"organisation_id"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type Family struct {
	ImportID        string         `json:"import_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Category        FamilyCategory `json:"category"`
	OrganisationID  int64          `json:"organisation_id"`
	PublishedDate   *string        `json:"published_date,omitempty" format:"date"`
	LastUpdatedDate *string        `json:"last_updated_date,omitempty" format:"date"`
	Geographies     []string       `json:"geographies"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type FamilyDocument struct {
	ImportID           string         `json:"import_id"`
	FamilyImportID     string         `json:"family_import_id"`
	PhysicalDocumentID int64          `json:"physical_document_id"`
	DocumentType       string         `json:"document_type,omitempty"`
	DocumentRole       string         `json:"document_role,omitempty"`
	VariantName        string         `json:"variant_name,omitempty"`
	Status             DocumentStatus `json:"document_status"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	UpdatedAt          string         `json:"updated_at" format:"date-time"`
}

type PhysicalDocument struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	SourceURL   string   `json:"source_url"`
	MD5Sum      string   `json:"md5_sum,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	CDNObject   string   `json:"cdn_object,omitempty"`
	Languages   []string `json:"languages"`
}

// Slug belongs to exactly one of family, family document or collection.
type Slug struct {
	Name                   string  `json:"name"`
	FamilyImportID         *string `json:"family_import_id,omitempty"`
	FamilyDocumentImportID *string `json:"family_document_import_id,omitempty"`
	CollectionImportID     *string `json:"collection_import_id,omitempty"`
	CreatedAt              string  `json:"created_at" format:"date-time"`
}

type FamilyEvent struct {
	ImportID               string  `json:"import_id"`
	FamilyImportID         string  `json:"family_import_id"`
	FamilyDocumentImportID *string `json:"family_document_import_id,omitempty"`
	Title                  string  `json:"title"`
	Date                   string  `json:"date" format:"date"`
	EventType              string  `json:"event_type"`
	Status                 string  `json:"status"`
}

// Metadata maps a taxonomy field to its canonical values.
type Metadata map[string][]string

type FamilyMetadata struct {
	FamilyImportID string   `json:"family_import_id"`
	TaxonomyID     string   `json:"taxonomy_id"`
	Value          Metadata `json:"value"`
}

type DocumentMetadata struct {
	FamilyDocumentImportID string   `json:"family_document_import_id"`
	TaxonomyID             string   `json:"taxonomy_id"`
	Value                  Metadata `json:"value"`
}

// Event is an audit log entry written alongside entity changes.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

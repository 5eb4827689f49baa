package rows

import "time"

// Row is implemented by every typed record the parser produces.
type Row interface {
	Number() int
	Kind() Kind
}

var CCLWDocumentSchema = Schema{Kind: KindCCLWDocument, Columns: []Column{
	{"ID", TypeInt},
	{"Document ID", TypeInt},
	{"Collection name", TypeString},
	{"Collection summary", TypeString},
	{"Document title", TypeString},
	{"Family name", TypeString},
	{"Family summary", TypeString},
	{"Family ID", TypeInt},
	{"Document role", TypeString},
	{"Applies to ID", TypeInt},
	{"Geography ISO", TypeList},
	{"Documents", TypeString},
	{"Category", TypeString},
	{"Events", TypeList},
	{"Sectors", TypeList},
	{"Instruments", TypeList},
	{"Frameworks", TypeList},
	{"Responses", TypeList},
	{"Natural Hazards", TypeList},
	{"Document Type", TypeString},
	{"Year", TypeInt},
	{"Language", TypeList},
	{"Keywords", TypeList},
	{"Geography", TypeString},
	{"Parent Legislation", TypeString},
	{"Comment", TypeString},
	{"CPR Document ID", TypeString},
	{"CPR Family ID", TypeString},
	{"CPR Collection ID", TypeString},
	{"CPR Family Slug", TypeString},
	{"CPR Document Slug", TypeString},
	{"Document variant", TypeString},
	{"CPR Document Status", TypeString},
}}

// DocumentRow is one line of the CCLW documents-families-collections CSV.
type DocumentRow struct {
	Row               int
	ID                int
	DocumentID        int
	CollectionName    string
	CollectionSummary string
	DocumentTitle     string
	FamilyName        string
	FamilySummary     string
	FamilyID          int
	DocumentRole      string
	AppliesToID       int
	GeographyISO      []string
	Documents         string
	Category          string
	Events            []string
	Sectors           []string
	Instruments       []string
	Frameworks        []string
	Responses         []string
	NaturalHazards    []string
	DocumentType      string
	Year              int
	Language          []string
	Keywords          []string
	Geography         string
	ParentLegislation string
	Comment           string
	CPRDocumentID     string
	CPRFamilyID       string
	CPRCollectionID   string
	CPRFamilySlug     string
	CPRDocumentSlug   string
	DocumentVariant   string
	CPRDocumentStatus string
}

func (r DocumentRow) Number() int { return r.Row }
func (r DocumentRow) Kind() Kind  { return KindCCLWDocument }

// SourceURL is the single url packed into the Documents cell.
func (r DocumentRow) SourceURL() (string, error) { return FirstURL(r.Documents) }

func ParseDocumentRow(row int, raw map[string]string) (DocumentRow, error) {
	v, err := CCLWDocumentSchema.coerce(row, raw)
	if err != nil {
		return DocumentRow{}, err
	}
	return DocumentRow{
		Row:               row,
		ID:                v.integer("id"),
		DocumentID:        v.integer("document_id"),
		CollectionName:    v.str("collection_name"),
		CollectionSummary: v.str("collection_summary"),
		DocumentTitle:     v.str("document_title"),
		FamilyName:        v.str("family_name"),
		FamilySummary:     v.str("family_summary"),
		FamilyID:          v.integer("family_id"),
		DocumentRole:      v.str("document_role"),
		AppliesToID:       v.integer("applies_to_id"),
		GeographyISO:      v.list("geography_iso"),
		Documents:         v.str("documents"),
		Category:          v.str("category"),
		Events:            v.list("events"),
		Sectors:           v.list("sectors"),
		Instruments:       v.list("instruments"),
		Frameworks:        v.list("frameworks"),
		Responses:         v.list("responses"),
		NaturalHazards:    v.list("natural_hazards"),
		DocumentType:      v.str("document_type"),
		Year:              v.integer("year"),
		Language:          v.list("language"),
		Keywords:          v.list("keywords"),
		Geography:         v.str("geography"),
		ParentLegislation: v.str("parent_legislation"),
		Comment:           v.str("comment"),
		CPRDocumentID:     v.str("cpr_document_id"),
		CPRFamilyID:       v.str("cpr_family_id"),
		CPRCollectionID:   v.str("cpr_collection_id"),
		CPRFamilySlug:     v.str("cpr_family_slug"),
		CPRDocumentSlug:   v.str("cpr_document_slug"),
		DocumentVariant:   v.str("document_variant"),
		CPRDocumentStatus: v.str("cpr_document_status"),
	}, nil
}

var EventSchema = Schema{Kind: KindEvent, Columns: []Column{
	{"Id", TypeInt},
	{"Eventable type", TypeString},
	{"Eventable Id", TypeInt},
	{"Eventable name", TypeString},
	{"Event type", TypeString},
	{"Title", TypeString},
	{"Description", TypeString},
	{"Date", TypeDate},
	{"Url", TypeString},
	{"CPR Event ID", TypeString},
	{"CPR Family ID", TypeString},
	{"Event Status", TypeString},
}}

type EventRow struct {
	Row           int
	ID            int
	EventableType string
	EventableID   int
	EventableName string
	EventType     string
	Title         string
	Description   string
	Date          time.Time
	URL           string
	CPREventID    string
	CPRFamilyID   string
	EventStatus   string
}

func (r EventRow) Number() int { return r.Row }
func (r EventRow) Kind() Kind  { return KindEvent }

func ParseEventRow(row int, raw map[string]string) (EventRow, error) {
	v, err := EventSchema.coerce(row, raw)
	if err != nil {
		return EventRow{}, err
	}
	return EventRow{
		Row:           row,
		ID:            v.integer("id"),
		EventableType: v.str("eventable_type"),
		EventableID:   v.integer("eventable_id"),
		EventableName: v.str("eventable_name"),
		EventType:     v.str("event_type"),
		Title:         v.str("title"),
		Description:   v.str("description"),
		Date:          v.date("date"),
		URL:           v.str("url"),
		CPREventID:    v.str("cpr_event_id"),
		CPRFamilyID:   v.str("cpr_family_id"),
		EventStatus:   v.str("event_status"),
	}, nil
}

var UNFCCCDocumentSchema = Schema{Kind: KindUNFCCCDocument, Columns: []Column{
	{"Category", TypeString},
	{"md5sum", TypeString},
	{"Submission Type", TypeString},
	{"Family Name", TypeString},
	{"Document Title", TypeString},
	{"Documents", TypeString},
	{"Author", TypeString},
	{"Author Type", TypeString},
	{"Geography", TypeString},
	{"Geography ISO", TypeList},
	{"Date", TypeDate},
	{"Document Role", TypeString},
	{"Document Variant", TypeString},
	{"Language", TypeList},
	{"Download URL", TypeString},
	{"CPR Collection ID", TypeList},
	{"CPR Document ID", TypeString},
	{"CPR Family ID", TypeString},
	{"CPR Family Slug", TypeString},
	{"CPR Document Slug", TypeString},
	{"CPR Document Status", TypeString},
}}

type UNFCCCDocumentRow struct {
	Row               int
	Category          string
	MD5Sum            string
	SubmissionType    string
	FamilyName        string
	DocumentTitle     string
	Documents         string
	Author            string
	AuthorType        string
	Geography         string
	GeographyISO      []string
	Date              time.Time
	DocumentRole      string
	DocumentVariant   string
	Language          []string
	DownloadURL       string
	CPRCollectionIDs  []string
	CPRDocumentID     string
	CPRFamilyID       string
	CPRFamilySlug     string
	CPRDocumentSlug   string
	CPRDocumentStatus string
}

func (r UNFCCCDocumentRow) Number() int { return r.Row }
func (r UNFCCCDocumentRow) Kind() Kind  { return KindUNFCCCDocument }

// SourceURL prefers the explicit download url over the Documents cell.
func (r UNFCCCDocumentRow) SourceURL() (string, error) {
	if r.DownloadURL != "" {
		return r.DownloadURL, nil
	}
	return FirstURL(r.Documents)
}

// CollectionIDs drops n/a placeholders from the collection id list.
func (r UNFCCCDocumentRow) CollectionIDs() []string {
	var res []string
	for _, id := range r.CPRCollectionIDs {
		if !IsNA(id) {
			res = append(res, id)
		}
	}
	return res
}

func ParseUNFCCCDocumentRow(row int, raw map[string]string) (UNFCCCDocumentRow, error) {
	v, err := UNFCCCDocumentSchema.coerce(row, raw)
	if err != nil {
		return UNFCCCDocumentRow{}, err
	}
	return UNFCCCDocumentRow{
		Row:               row,
		Category:          v.str("category"),
		MD5Sum:            v.str("md5sum"),
		SubmissionType:    v.str("submission_type"),
		FamilyName:        v.str("family_name"),
		DocumentTitle:     v.str("document_title"),
		Documents:         v.str("documents"),
		Author:            v.str("author"),
		AuthorType:        v.str("author_type"),
		Geography:         v.str("geography"),
		GeographyISO:      v.list("geography_iso"),
		Date:              v.date("date"),
		DocumentRole:      v.str("document_role"),
		DocumentVariant:   v.str("document_variant"),
		Language:          v.list("language"),
		DownloadURL:       v.str("download_url"),
		CPRCollectionIDs:  v.list("cpr_collection_id"),
		CPRDocumentID:     v.str("cpr_document_id"),
		CPRFamilyID:       v.str("cpr_family_id"),
		CPRFamilySlug:     v.str("cpr_family_slug"),
		CPRDocumentSlug:   v.str("cpr_document_slug"),
		CPRDocumentStatus: v.str("cpr_document_status"),
	}, nil
}

var CollectionSchema = Schema{Kind: KindCollection, Columns: []Column{
	{"CPR Collection ID", TypeString},
	{"Collection name", TypeString},
	{"Collection summary", TypeString},
}}

type CollectionRow struct {
	Row               int
	CPRCollectionID   string
	CollectionName    string
	CollectionSummary string
}

func (r CollectionRow) Number() int { return r.Row }
func (r CollectionRow) Kind() Kind  { return KindCollection }

func ParseCollectionRow(row int, raw map[string]string) (CollectionRow, error) {
	v, err := CollectionSchema.coerce(row, raw)
	if err != nil {
		return CollectionRow{}, err
	}
	return CollectionRow{
		Row:               row,
		CPRCollectionID:   v.str("cpr_collection_id"),
		CollectionName:    v.str("collection_name"),
		CollectionSummary: v.str("collection_summary"),
	}, nil
}

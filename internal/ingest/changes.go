package ingest

// ChangeSet records what happened to one entity in one row. A created entity
// carries a full snapshot; an updated one carries only the changed fields.
type ChangeSet struct {
	Created bool           `json:"created,omitempty"`
	Fields  map[string]any `json:"fields"`
}

func created(fields map[string]any) *ChangeSet {
	return &ChangeSet{Created: true, Fields: fields}
}

// fieldDiff stages column updates whose values differ from the stored ones.
type fieldDiff map[string]any

func (d fieldDiff) str(col, current, next string) {
	if current != next {
		d[col] = next
	}
}

func (d fieldDiff) changes() *ChangeSet {
	if len(d) == 0 {
		return nil
	}
	return &ChangeSet{Fields: d}
}

// RowChanges is the closed set of entities a row can touch. A nil entry
// means the entity was left as it was.
type RowChanges struct {
	Collection       *ChangeSet `json:"collection,omitempty"`
	CollectionLinks  []string   `json:"collection_links,omitempty"`
	Family           *ChangeSet `json:"family,omitempty"`
	FamilyDocument   *ChangeSet `json:"family_document,omitempty"`
	PhysicalDocument *ChangeSet `json:"physical_document,omitempty"`
	FamilySlug       *ChangeSet `json:"family_slug,omitempty"`
	DocumentSlug     *ChangeSet `json:"document_slug,omitempty"`
	Event            *ChangeSet `json:"event,omitempty"`
	FamilyMetadata   *ChangeSet `json:"family_metadata,omitempty"`
	DocumentMetadata *ChangeSet `json:"document_metadata,omitempty"`
}

func (c RowChanges) Empty() bool {
	return c.Collection == nil && len(c.CollectionLinks) == 0 && c.Family == nil &&
		c.FamilyDocument == nil && c.PhysicalDocument == nil && c.FamilySlug == nil &&
		c.DocumentSlug == nil && c.Event == nil && c.FamilyMetadata == nil && c.DocumentMetadata == nil
}

// mergeChanges folds extra family fields (derived dates) into an existing change set.
func mergeChanges(cs *ChangeSet, fields map[string]any) *ChangeSet {
	if len(fields) == 0 {
		return cs
	}
	if cs == nil {
		cs = &ChangeSet{Fields: map[string]any{}}
	}
	for k, v := range fields {
		cs.Fields[k] = v
	}
	return cs
}

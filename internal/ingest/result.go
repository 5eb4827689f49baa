package ingest

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"

	"navigator/internal/domain"
)

type ResultType string

const (
	ResultOK       ResultType = "Ok"
	ResultResolved ResultType = "Resolved"
	ResultError    ResultType = "Error"
)

type Result struct {
	Type    ResultType `json:"type"`
	Details string     `json:"details"`
}

// rank orders result types by precedence.
func (t ResultType) rank() int {
	switch t {
	case ResultError:
		return 2
	case ResultResolved:
		return 1
	}
	return 0
}

// RowOutcome is what a row processor reports for one row.
type RowOutcome struct {
	Row     int        `json:"row"`
	Result  Result     `json:"result"`
	Changes RowChanges `json:"changes"`
}

type familyIdentity struct {
	row         int
	title       string
	description string
}

// IngestContext accumulates results across one run. It is owned by a single
// goroutine and discarded once the run has been reported.
type IngestContext struct {
	OrgID    int64
	OrgName  string
	RunID    string
	Rows     int
	Results  []Result
	Outcomes []RowOutcome

	families map[string]familyIdentity

	// collection ids seen in the UNFCCC collections and documents files
	definedCollections    map[string]bool
	referencedCollections []string
	referencedSeen        map[string]bool
}

func NewIngestContext(org domain.Organisation, runID string) *IngestContext {
	return &IngestContext{
		OrgID:              org.ID,
		OrgName:            org.Name,
		RunID:              runID,
		families:           map[string]familyIdentity{},
		definedCollections: map[string]bool{},
		referencedSeen:     map[string]bool{},
	}
}

func (c *IngestContext) Add(r Result) {
	c.Results = append(c.Results, r)
}

func (c *IngestContext) addOutcome(o RowOutcome) {
	c.Outcomes = append(c.Outcomes, o)
	c.Add(o.Result)
}

// CheckFamily compares a row's family title and description with the first
// row of the run that defined the family. A disagreeing row fails with
// ErrFamilyConflict.
func (c *IngestContext) CheckFamily(row int, importID, title, description string) error {
	seen, ok := c.families[importID]
	if !ok {
		return nil
	}
	if seen.title != title {
		return errors.Wrapf(ErrFamilyConflict, "family %s has title %q but row %d set %q", importID, title, seen.row, seen.title)
	}
	if seen.description != description {
		return errors.Wrapf(ErrFamilyConflict, "family %s has a different description than row %d", importID, seen.row)
	}
	return nil
}

// PinFamily records a family's identity once a row defining it has gone
// through. Only the first successful row counts.
func (c *IngestContext) PinFamily(row int, importID, title, description string) {
	if _, ok := c.families[importID]; ok {
		return
	}
	c.families[importID] = familyIdentity{row: row, title: title, description: description}
}

func (c *IngestContext) DefineCollection(id string) {
	c.definedCollections[id] = true
}

func (c *IngestContext) ReferenceCollection(id string) {
	if c.referencedSeen[id] {
		return
	}
	c.referencedSeen[id] = true
	c.referencedCollections = append(c.referencedCollections, id)
}

// CheckCollections cross-checks referenced and defined collections once every
// row has been read. Undefined references are errors; unused definitions are
// reported as notes.
func (c *IngestContext) CheckCollections() error {
	var undefined []string
	for _, id := range c.referencedCollections {
		if !c.definedCollections[id] {
			undefined = append(undefined, id)
			c.Add(Result{Type: ResultError, Details: fmt.Sprintf("Collection %q was referenced and not defined", id)})
		}
	}
	var unused []string
	for id := range c.definedCollections {
		if !c.referencedSeen[id] {
			unused = append(unused, id)
		}
	}
	sort.Strings(unused)
	for _, id := range unused {
		c.Add(Result{Type: ResultOK, Details: fmt.Sprintf("Collection %q was defined and not referenced", id)})
	}
	if len(undefined) > 0 {
		return errors.Wrapf(ErrCollectionMismatch, "%d referenced collections are not defined", len(undefined))
	}
	return nil
}

// Summary counts rows, ERROR results and RESOLVED results.
type Summary struct {
	Rows     int `json:"rows"`
	Failures int `json:"failures"`
	Resolved int `json:"resolved"`
}

func (s Summary) Message() string {
	return fmt.Sprintf("%d Rows, %d Failures, %d Resolved", s.Rows, s.Failures, s.Resolved)
}

func (c *IngestContext) Summary() Summary {
	s := Summary{Rows: c.Rows}
	for _, r := range c.Results {
		switch r.Type {
		case ResultError:
			s.Failures++
		case ResultResolved:
			s.Resolved++
		}
	}
	return s
}

// Errors returns the ERROR results in the order they were recorded.
func (c *IngestContext) Errors() []Result {
	res := []Result{}
	for _, r := range c.Results {
		if r.Type == ResultError {
			res = append(res, r)
		}
	}
	return res
}

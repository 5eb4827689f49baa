package server

import (
	"navigator/internal/ingest"
)

// IngestRequest carries the raw csv files of one ingest or validate call.
type IngestRequest struct {
	Documents   string `json:"documents" doc:"documents csv, including the header line"`
	Events      string `json:"events,omitempty" doc:"events csv (CCLW only)"`
	Collections string `json:"collections,omitempty" doc:"collections csv (UNFCCC only)"`
}

func (r IngestRequest) inputs() ingest.Inputs {
	return ingest.Inputs{
		Documents:   optionalBytes(r.Documents),
		Events:      optionalBytes(r.Events),
		Collections: optionalBytes(r.Collections),
	}
}

// IngestAccepted points at where a background run writes its artifacts.
type IngestAccepted struct {
	Prefix string `json:"prefix" example:"CCLW/20240101T000000Z-5b2f0c1e-8d0b-4c4e-9a55-0d3b8b1f7e21"`
}

func optionalBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

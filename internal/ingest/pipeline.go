package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"navigator/internal/domain"
	"navigator/internal/events"
	"navigator/internal/ingest/rows"
	"navigator/internal/repo"
	"navigator/internal/taxonomy"
)

// Inputs are the raw csv files of one run. Which ones are needed depends on
// the organisation: CCLW reads documents and events, UNFCCC reads
// collections and documents.
type Inputs struct {
	Documents   []byte
	Events      []byte
	Collections []byte
}

type mode int

const (
	modeValidate mode = iota
	modeIngest
)

// Pipeline drives validate and ingest runs over an organisation's csv files.
type Pipeline struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Taxonomies *taxonomy.Registry
	Logger     *zap.Logger
	Now        func() time.Time
}

// processor is the per-run state shared by the row processors.
type processor struct {
	db  *sql.DB
	rec Reconciler
	tax taxonomy.Taxonomy
}

// inTx runs one row in its own transaction. Rows never share a transaction,
// so a failing row leaves earlier rows committed.
func (p processor) inTx(ctx context.Context, fn func(tx *sql.Tx) (RowOutcome, error)) (RowOutcome, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return RowOutcome{}, errors.Wrap(err, "begin row")
	}
	defer tx.Rollback()
	out, err := fn(tx)
	if err != nil {
		return RowOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return RowOutcome{}, errors.Wrap(err, "commit row")
	}
	return out, nil
}

func (p Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger.Named("ingest")
}

// Validate checks every row against the schema and the organisation's
// taxonomy without writing anything.
func (p Pipeline) Validate(ctx context.Context, org domain.Organisation, in Inputs) (*IngestContext, error) {
	return p.run(ctx, modeValidate, org, in, "")
}

// Ingest reconciles every row against the catalog, one transaction per row.
// A returned ErrCollectionMismatch comes with a complete context.
func (p Pipeline) Ingest(ctx context.Context, org domain.Organisation, in Inputs, runID string) (*IngestContext, error) {
	return p.run(ctx, modeIngest, org, in, runID)
}

type csvInput struct {
	name   string
	data   []byte
	schema rows.Schema
}

// checkHeaders validates every supplied file before any row is read.
func checkHeaders(inputs ...csvInput) error {
	for _, in := range inputs {
		if in.data == nil {
			continue
		}
		header, err := ReadHeader(bytes.NewReader(in.data))
		if err != nil {
			return errors.Wrapf(err, "%s csv", in.name)
		}
		if err := in.schema.CheckHeader(header); err != nil {
			return err
		}
	}
	return nil
}

func (p Pipeline) run(ctx context.Context, m mode, org domain.Organisation, in Inputs, runID string) (*IngestContext, error) {
	tax, err := p.Taxonomies.For(org.Name)
	if err != nil {
		return nil, err
	}
	if len(in.Documents) == 0 {
		return nil, errors.WithHint(errors.New("documents csv is required"), "pass the documents file")
	}
	log := p.logger().With(zap.String("org", org.Name), zap.String("run_id", runID))
	ic := NewIngestContext(org, runID)
	proc := processor{
		db:  p.DB,
		tax: tax,
		rec: Reconciler{Repo: p.Repo, Events: p.Events, Now: p.Now, Logger: log, RunID: runID},
	}

	var runErr error
	switch strings.ToUpper(org.Name) {
	case "CCLW":
		if err := checkHeaders(
			csvInput{"documents", in.Documents, rows.CCLWDocumentSchema},
			csvInput{"events", in.Events, rows.EventSchema},
		); err != nil {
			return nil, err
		}
		docs, evts := proc.ingestCCLWDocument, proc.ingestEvent
		if m == modeValidate {
			docs, evts = proc.validateCCLWDocument, proc.validateEvent
		}
		if err := Read(ctx, bytes.NewReader(in.Documents), ic, rows.CCLWDocumentSchema, rows.ParseDocumentRow, docs, log); err != nil {
			return nil, err
		}
		if in.Events != nil {
			if err := Read(ctx, bytes.NewReader(in.Events), ic, rows.EventSchema, rows.ParseEventRow, evts, log); err != nil {
				return nil, err
			}
		}
	case "UNFCCC":
		if err := checkHeaders(
			csvInput{"collections", in.Collections, rows.CollectionSchema},
			csvInput{"documents", in.Documents, rows.UNFCCCDocumentSchema},
		); err != nil {
			return nil, err
		}
		colls, docs := proc.ingestCollection, proc.ingestUNFCCCDocument
		if m == modeValidate {
			colls, docs = proc.validateCollection, proc.validateUNFCCCDocument
		}
		if in.Collections != nil {
			if err := Read(ctx, bytes.NewReader(in.Collections), ic, rows.CollectionSchema, rows.ParseCollectionRow, colls, log); err != nil {
				return nil, err
			}
		}
		if err := Read(ctx, bytes.NewReader(in.Documents), ic, rows.UNFCCCDocumentSchema, rows.ParseUNFCCCDocumentRow, docs, log); err != nil {
			return nil, err
		}
		runErr = ic.CheckCollections()
	default:
		return nil, errors.Wrapf(ErrUnsupportedOrg, "%q", org.Name)
	}

	s := ic.Summary()
	log.Info("run complete",
		zap.Bool("validate_only", m == modeValidate),
		zap.Int("rows", s.Rows),
		zap.Int("failures", s.Failures),
		zap.Int("resolved", s.Resolved))
	return ic, runErr
}

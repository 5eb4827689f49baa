package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"navigator/internal/artifacts"
	"navigator/internal/config"
	"navigator/internal/domain"
	"navigator/internal/events"
	"navigator/internal/export"
	"navigator/internal/ingest"
	"navigator/internal/repo"
	"navigator/internal/taxonomy"
)

var (
	ErrUnknownOrganisation = errors.New("unknown organisation")
	ErrMissingInput        = errors.New("missing input file")
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Taxonomies *taxonomy.Registry
	Store      artifacts.Store
	Logger     *zap.Logger
	Now        func() time.Time

	// RunDone, when set, is called after a background ingest run finishes.
	RunDone func(IngestReport, error)
}

func New(db *sql.DB, cfg *config.Config, taxonomies *taxonomy.Registry, store artifacts.Store, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Taxonomies: taxonomies,
		Store:      store,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) pipeline() ingest.Pipeline {
	return ingest.Pipeline{
		DB:         e.DB,
		Repo:       e.Repo,
		Events:     e.Events,
		Taxonomies: e.Taxonomies,
		Logger:     e.logger(),
		Now:        e.Now,
	}
}

func (e Engine) exporter() export.Exporter {
	x := export.Exporter{Repo: e.Repo, Logger: e.logger()}
	if e.Config != nil {
		x.CDNBase = e.Config.Export.CDNBaseURL
	}
	return x
}

// Organisation resolves an organisation by name, case-insensitively.
func (e Engine) Organisation(ctx context.Context, name string) (domain.Organisation, error) {
	org, err := e.Repo.GetOrganisationByName(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return org, errors.WithHint(errors.Wrapf(ErrUnknownOrganisation, "%q", name), "known organisations are CCLW and UNFCCC")
	}
	return org, err
}

// ValidationSummary is the outcome of a validate run.
type ValidationSummary struct {
	Message string          `json:"message"`
	Errors  []ingest.Result `json:"errors"`
	Results []ingest.Result `json:"results,omitempty"`
}

// Validate checks the files against schema and taxonomy without writing. A
// collection mismatch is part of the summary, not an error.
func (e Engine) Validate(ctx context.Context, orgName string, in ingest.Inputs) (ValidationSummary, error) {
	org, err := e.Organisation(ctx, orgName)
	if err != nil {
		return ValidationSummary{}, err
	}
	if len(in.Documents) == 0 {
		return ValidationSummary{}, errors.Wrap(ErrMissingInput, "documents csv")
	}
	ic, err := e.pipeline().Validate(ctx, org, in)
	if err != nil && !errors.Is(err, ingest.ErrCollectionMismatch) {
		return ValidationSummary{}, err
	}
	return ValidationSummary{
		Message: ic.Summary().Message(),
		Errors:  ic.Errors(),
		Results: ic.Results,
	}, nil
}

// IngestReport is written as results.json at the end of every ingest run.
type IngestReport struct {
	RunID        string              `json:"run_id"`
	Organisation string              `json:"organisation"`
	Prefix       string              `json:"prefix"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Message      string              `json:"message"`
	Summary      ingest.Summary      `json:"summary"`
	Rejected     bool                `json:"rejected"`
	Error        string              `json:"error,omitempty"`
	Results      []ingest.Result     `json:"results"`
	Outcomes     []ingest.RowOutcome `json:"outcomes"`
}

type run struct {
	id      string
	prefix  string
	org     domain.Organisation
	started time.Time
}

func (e Engine) newRun(org domain.Organisation) run {
	started := e.now().UTC()
	id := uuid.NewString()
	return run{
		id:      id,
		prefix:  fmt.Sprintf("%s/%s-%s", org.Name, started.Format("20060102T150405Z"), id),
		org:     org,
		started: started,
	}
}

func (e Engine) prepare(ctx context.Context, orgName string, in ingest.Inputs) (run, error) {
	org, err := e.Organisation(ctx, orgName)
	if err != nil {
		return run{}, err
	}
	if len(in.Documents) == 0 {
		return run{}, errors.Wrap(ErrMissingInput, "documents csv")
	}
	if e.Store == nil {
		return run{}, errors.AssertionFailedf("engine has no artifact store")
	}
	r := e.newRun(org)
	for name, data := range map[string][]byte{
		"documents.csv":   in.Documents,
		"events.csv":      in.Events,
		"collections.csv": in.Collections,
	} {
		if data == nil {
			continue
		}
		if err := e.Store.Put(ctx, r.prefix+"/"+name, "text/csv", data); err != nil {
			return run{}, err
		}
	}
	return r, nil
}

// Ingest runs the pipeline synchronously and stores its artifacts. A
// rejected run still returns its report.
func (e Engine) Ingest(ctx context.Context, orgName string, in ingest.Inputs) (IngestReport, error) {
	r, err := e.prepare(ctx, orgName, in)
	if err != nil {
		return IngestReport{}, err
	}
	return e.execute(ctx, r, in)
}

// StartIngest stores the inputs and runs the pipeline in the background. It
// returns the artifact prefix the run reports under. The run outlives the
// caller's context and cannot be cancelled.
func (e Engine) StartIngest(ctx context.Context, orgName string, in ingest.Inputs) (string, error) {
	r, err := e.prepare(ctx, orgName, in)
	if err != nil {
		return "", err
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		report, err := e.execute(bg, r, in)
		if err != nil {
			e.logger().Error("background ingest failed", zap.String("run_id", r.id), zap.String("prefix", r.prefix), zap.Error(err))
		}
		if e.RunDone != nil {
			e.RunDone(report, err)
		}
	}()
	return r.prefix, nil
}

func (e Engine) execute(ctx context.Context, r run, in ingest.Inputs) (IngestReport, error) {
	log := e.logger().With(zap.String("run_id", r.id), zap.String("org", r.org.Name))
	report := IngestReport{RunID: r.id, Organisation: r.org.Name, Prefix: r.prefix, StartedAt: r.started}

	ic, runErr := e.pipeline().Ingest(ctx, r.org, in, r.id)
	if ic != nil {
		s := ic.Summary()
		report.Summary = s
		report.Message = s.Message()
		report.Results = ic.Results
		report.Outcomes = ic.Outcomes
	}
	if runErr != nil {
		report.Rejected = true
		report.Error = runErr.Error()
	}
	report.FinishedAt = e.now().UTC()
	if err := e.putJSON(ctx, r.prefix+"/results.json", report); err != nil {
		return report, err
	}

	records, err := e.exporter().Records(ctx)
	if err != nil {
		return report, errors.CombineErrors(runErr, err)
	}
	if err := e.putJSON(ctx, r.prefix+"/pipeline.json", records); err != nil {
		return report, errors.CombineErrors(runErr, err)
	}
	log.Info("ingest artifacts stored", zap.String("prefix", r.prefix), zap.Int("records", len(records)))
	return report, runErr
}

func (e Engine) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return e.Store.Put(ctx, key, "application/json", data)
}

// Export returns the current pipeline export records.
func (e Engine) Export(ctx context.Context) ([]export.Record, error) {
	return e.exporter().Records(ctx)
}

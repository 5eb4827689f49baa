package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"navigator/internal/app"
	"navigator/internal/config"
	"navigator/internal/db"
	"navigator/internal/engine"
	"navigator/internal/ingest"
	"navigator/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "nav",
	Short: "Navigator catalog CLI",
	Long: `Navigator loads the CCLW and UNFCCC bulk-import spreadsheets into the
climate policy catalog.

- validate checks a set of csv files against the schema and taxonomy without writing.
- ingest writes families, documents, events, collections, slugs and metadata, and
  stores the inputs, a results report and the pipeline export as artifacts.
- export prints the document records handed to the processing pipeline.
- document update and family show are the admin views of single entities.
- log tail shows the audit log every write appends to.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NAVIGATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/navigator.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().Bool("dev-log", false, "human readable console logs")
	for _, name := range []string{"workspace", "config", "json", "log-level", "dev-log"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(familyCmd())
	rootCmd.AddCommand(taxonomyCmd())
	rootCmd.AddCommand(geographyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage navigator.yml",
		Long:  "navigator.yml picks the taxonomy overlay, the artifact backend (local directory or S3 bucket), the CDN base for download urls and the server address.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default navigator.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return errors.WithHint(errors.Newf("%s already exists", path), "pass --force to overwrite it")
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate navigator.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

type inputFlags struct {
	documents, events, collections string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.documents, "documents", "", "documents csv")
	cmd.Flags().StringVar(&f.events, "events", "", "events csv (CCLW)")
	cmd.Flags().StringVar(&f.collections, "collections", "", "collections csv (UNFCCC)")
	_ = cmd.MarkFlagRequired("documents")
}

func (f *inputFlags) read() (ingest.Inputs, error) {
	var in ingest.Inputs
	for _, src := range []struct {
		path string
		dst  *[]byte
	}{
		{f.documents, &in.Documents},
		{f.events, &in.Events},
		{f.collections, &in.Collections},
	} {
		if src.path == "" {
			continue
		}
		data, err := os.ReadFile(src.path)
		if err != nil {
			return in, errors.Wrapf(err, "read %s", src.path)
		}
		*src.dst = data
	}
	return in, nil
}

func validateCmd() *cobra.Command {
	var files inputFlags
	cmd := &cobra.Command{
		Use:   "validate <org>",
		Short: "Check ingest files without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := files.read()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.Validate(ctx, args[0], in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Println(sum.Message)
				printResults(sum.Results)
				return nil
			})
		},
	}
	files.register(cmd)
	return cmd
}

func ingestCmd() *cobra.Command {
	var files inputFlags
	cmd := &cobra.Command{
		Use:   "ingest <org>",
		Short: "Ingest files into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := files.read()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, runErr := e.Ingest(ctx, args[0], in)
				if report.RunID == "" {
					return runErr
				}
				if viper.GetBool("json") {
					if err := printJSON(report); err != nil {
						return err
					}
					return runErr
				}
				fmt.Println(report.Message)
				fmt.Println("artifacts:", report.Prefix)
				printResults(report.Results)
				return runErr
			})
		},
	}
	files.register(cmd)
	return cmd
}

func printResults(results []ingest.Result) {
	if len(results) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Details"})
	for _, r := range results {
		tw.AppendRow(table.Row{r.Type, r.Details})
	}
	tw.Render()
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the pipeline export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.Export(ctx)
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(records)
				}
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %d records to %s\n", len(records), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func documentCmd() *cobra.Command {
	doc := &cobra.Command{Use: "document", Short: "Admin document operations"}
	doc.AddCommand(documentUpdateCmd())
	return doc
}

func documentUpdateCmd() *cobra.Command {
	var title, md5, contentType, cdnObject string
	var languages []string
	cmd := &cobra.Command{
		Use:   "update <import_id>",
		Short: "Update a document's physical fields or add languages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.DocumentUpdate{Languages: languages}
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("md5") {
				upd.MD5Sum = &md5
			}
			if cmd.Flags().Changed("content-type") {
				upd.ContentType = &contentType
			}
			if cmd.Flags().Changed("cdn-object") {
				upd.CDNObject = &cdnObject
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.UpdateDocument(ctx, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&md5, "md5", "", "md5 sum")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type")
	cmd.Flags().StringVar(&cdnObject, "cdn-object", "", "cdn object key")
	cmd.Flags().StringSliceVar(&languages, "language", nil, "language to add (ISO 639-3, 639-1 or name); repeatable")
	return cmd
}

func familyCmd() *cobra.Command {
	fam := &cobra.Command{Use: "family", Short: "Inspect families"}
	fam.AddCommand(&cobra.Command{
		Use:   "show <import_id>",
		Short: "Show a family with its documents, events and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetFamily(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("%s  %s [%s]\n", view.ImportID, view.Title, view.Category)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Document", "Title", "Role", "Status", "Languages"})
				for _, d := range view.Documents {
					tw.AppendRow(table.Row{d.ImportID, d.Physical.Title, d.DocumentRole, d.Status, strings.Join(d.Physical.Languages, ",")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return fam
}

func taxonomyCmd() *cobra.Command {
	tax := &cobra.Command{Use: "taxonomy", Short: "Inspect taxonomies"}
	tax.AddCommand(&cobra.Command{
		Use:   "show <org>",
		Short: "Show an organisation's taxonomy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := app.Taxonomies(viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			t, err := reg.For(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(t)
			}
			fmt.Printf("%s (%s)\n", t.ID, t.Organisation)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Field", "Blanks", "Allowed values"})
			for _, name := range t.FieldNames() {
				f, _ := t.Field(name)
				values := strings.Join(f.AllowedValues, "; ")
				if f.AllowAny {
					values = "(any)"
				}
				tw.AppendRow(table.Row{name, f.AllowBlanks, values})
			}
			tw.Render()
			return nil
		},
	})
	return tax
}

func geographyCmd() *cobra.Command {
	geo := &cobra.Command{Use: "geography", Short: "Reference geographies"}
	geo.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the geography codes rows may use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				geos, err := e.Repo.ListGeographies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(geos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Type"})
				for _, g := range geos {
					tw.AppendRow(table.Row{g.Value, g.Display, g.Type})
				}
				tw.Render()
				return nil
			})
		},
	})
	return geo
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every entity an ingest or admin update writes appends an event, tagged with the run that wrote it.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var runID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, runID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Run"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.RunID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&runID, "run", "", "ingest run id")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("addr") && e.Config.Server.Addr != "" {
					addr = e.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && e.Config.Server.BasePath != "" {
					basePath = e.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Logger.Info("serving navigator api", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Navigator API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if l := viper.GetString("log-level"); l != "" {
		level = l
	}
	if level == "" {
		level = "info"
	}
	atom, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Dev || viper.GetBool("dev-log") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = atom
	return zcfg.Build()
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

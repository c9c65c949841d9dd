package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stallplan/internal/app"
	"stallplan/internal/config"
	"stallplan/internal/db"
	"stallplan/internal/domain"
	"stallplan/internal/engine"
	"stallplan/internal/floorplan"
	"stallplan/internal/migrate"
	"stallplan/internal/repo"
	"stallplan/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "Stallplan CLI",
	Long: `Stallplan places exhibition stalls on a hall floor plan.
- Floor plan: the editor document (hallArea plus shapes). Pillars and other shapes are obstacles.
- Tiers: Platinum, Gold, Silver and Bronze stall sizes with a requested count each.
- Pipeline: oracle suggestions first, then random sampling, then an exhaustive grid scan.
- Runs: every layout is stored in the workspace with its seed, so it can be reproduced.
- Event log: view with 'sp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := log.InfoLevel
		if viper.GetBool("verbose") {
			level = log.DebugLevel
		}
		cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STALLPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(placeCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func placeCmd() *cobra.Command {
	var planPath, inputsArg, outPath string
	var seed uint64
	var noOracle bool
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place stalls on a floor plan file",
		Long:  "Reads an editor floor plan and the per-tier stall inputs, runs the placement pipeline and writes the merged floor plan. --inputs takes a JSON file path or an inline JSON object.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(planPath)
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			doc, err := floorplan.ParseDocument(data)
			if err != nil {
				return err
			}
			inputs, err := readInputs(inputsArg)
			if err != nil {
				return err
			}
			req := engine.PlanRequest{
				Document:      doc,
				Inputs:        inputs,
				Source:        engine.SourceCLI,
				ActorID:       viper.GetString("actor-id"),
				DisableOracle: noOracle,
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := newProgress(loggerFromContext(ctx))
				res, err := e.Plan(ctx, req)
				if err != nil {
					return err
				}
				p.done("placed stalls", "run", res.Run.ID, "placed", res.Run.Placed, "required", res.Run.Required)
				out, err := json.MarshalIndent(res.Layout, "", "  ")
				if err != nil {
					return err
				}
				if outPath != "" {
					if err := os.WriteFile(outPath, append(out, '\n'), 0o644); err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(res.Run)
					}
					printFulfillment(res.Run)
					return nil
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "floor plan JSON file")
	cmd.Flags().StringVar(&inputsArg, "inputs", "", "tier inputs: JSON file or inline JSON")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the merged floor plan here instead of stdout")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "sampler seed (default from config or random)")
	cmd.Flags().BoolVar(&noOracle, "no-oracle", false, "skip the oracle stage")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("inputs")
	return cmd
}

func readInputs(arg string) (floorplan.Inputs, error) {
	trimmed := strings.TrimSpace(arg)
	if strings.HasPrefix(trimmed, "{") {
		return floorplan.ParseInputs([]byte(trimmed))
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return floorplan.ParseInputs(data)
}

func printFulfillment(run domain.Run) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Tier", "Placed", "Required"})
	for _, f := range run.Fulfillment {
		tw.AppendRow(table.Row{f.Label, f.Placed, f.Required})
	}
	tw.AppendFooter(table.Row{"total", run.Placed, run.Required})
	tw.Render()
	if run.OracleError != "" {
		fmt.Printf("oracle error: %s\n", run.OracleError)
	}
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored layout runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var source string
	var limit int
	var incomplete bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f := repo.RunFilters{Source: source, Limit: limit}
				if incomplete {
					complete := false
					f.Complete = &complete
				}
				items, err := r.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Source", "Placed", "Required", "Oracle", "Seed"})
				for _, run := range items {
					oracleCol := run.Oracle
					if run.OracleError != "" {
						oracleCol += " (failed)"
					}
					tw.AppendRow(table.Row{run.ID, run.CreatedAt, run.Source, run.Placed, run.Required, oracleCol, run.Seed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "filter by source (api, predict, cli)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	cmd.Flags().BoolVar(&incomplete, "incomplete", false, "only runs that did not place every stall")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var layoutOnly bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its stalls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if layoutOnly {
					return printJSON(detail.Layout)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": detail.Run, "stalls": detail.Stalls})
				}
				fmt.Printf("Run %s (%s, seed %s, oracle %s)\n", detail.Run.ID, detail.Run.Source, detail.Run.Seed, detail.Run.Oracle)
				printFulfillment(detail.Run)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Shape", "Tier", "Stage", "X1", "Y1", "X2", "Y2"})
				for _, s := range detail.Stalls {
					tw.AppendRow(table.Row{s.Seq, s.ShapeID, s.Tier, s.Stage, s.X1, s.Y1, s.X2, s.Y2})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&layoutOnly, "layout", false, "print only the merged floor plan")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage stallplan.yml",
		Long:  "stallplan.yml holds the unit scale, tier catalogue, placement budgets, oracle and cache settings. Missing keys fall back to the defaults.",
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
		Short: "Write the default stallplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			loggerFromContext(cmd.Context()).Info("wrote config", "path", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			if cfg.Cache.Password != "" {
				cfg.Cache.Password = "********"
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stallplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every stored run and API key change is appended to the event log.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if follow {
					return followEvents(ctx, r, interval)
				}
				events, err := r.LatestEvents(ctx, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				printEvents(events)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

func followEvents(ctx context.Context, r repo.Repo, interval time.Duration) error {
	cursor, err := r.LatestEventID(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events, err := r.EventsAfter(ctx, 100, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, evt := range events {
			cursor = evt.ID
			if viper.GetBool("json") {
				b, _ := json.Marshal(evt)
				fmt.Println(string(b))
				continue
			}
			fmt.Printf("%d %s %s %s/%s %s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.Payload)
		}
	}
}

func printEvents(events []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
	for _, evt := range events {
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
	}
	tw.Render()
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP API",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name, actor string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("API key %s for %s\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (default --actor-id)")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], viper.GetString("actor-id")); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("api key %s not found", args[0])
					}
					return err
				}
				loggerFromContext(ctx).Info("revoked api key", "id", args[0])
				return nil
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for the HTTP API",
	}
	cmd.AddCommand(tokenMintCmd())
	return cmd
}

func tokenMintCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a JWT for --actor-id with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			token, err := server.SignToken(jwtSecret(cfg), viper.GetString("actor-id"), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "expires_in": int(ttl.Seconds())})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// jwtSecret prefers STALLPLAN_JWT_SECRET over auth.jwt_secret.
func jwtSecret(cfg *config.Config) string {
	if s := strings.TrimSpace(viper.GetString("jwt-secret")); s != "" {
		return s
	}
	return cfg.Auth.JWTSecret
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			env, err := app.Open(ctx, viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer env.Close()
			cfg := env.Engine.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: jwtSecret(cfg), Required: cfg.Auth.Required}
			if authCfg.Required && authCfg.JWTSecret == "" {
				logger.Warn("auth.required is set without a jwt secret; only API keys will authenticate")
			}
			handler, err := server.New(server.Config{
				Engine:         env.Engine,
				BasePath:       basePath,
				Auth:           authCfg,
				CORSOrigins:    cfg.Server.CORSOrigins,
				Logger:         logger,
				RequestTimeout: cfg.Server.RequestTimeout,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving stallplan API", "url", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"), loggerFromContext(ctx))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine)
}

// withRepo skips oracle and cache setup for read-only commands.
func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

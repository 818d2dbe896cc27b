package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"commitline/internal/config"
	"commitline/internal/db"
	"commitline/internal/domain"
	"commitline/internal/engine"
	"commitline/internal/migrate"
	"commitline/internal/repo"
	"commitline/internal/server"
	"commitline/internal/signal"
)

var rootCmd = &cobra.Command{
	Use:   "cml",
	Short: "Commitline CLI",
	Long: `Commitline is a production-control engine for reliable commitments.
Core concepts:
- Work items: pieces of field work. They move Intent -> Not Ready -> Ready
  and never rest in Intent; readiness is computed, never asserted.
- Constraints: the named blockers (Materials, Permits, Access...). A work
  item is Ready only when it has at least one constraint and every one is
  Cleared. Clearing records who vouched for it.
- Commitments: a promise to deliver Ready work by a due date. Committing
  not-Ready work is refused outright; there is no override. Once made, a
  commitment's terms are immutable.
- Learning signals: every failed commitment yields exactly one categorized
  cause record. 'cml signal drilldown' aggregates them so recurring causes
  surface instead of disappearing into excuses.
- Audit log: an append-only diary of every transition and every refused
  attempt; view with 'cml log tail'.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("COMMITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(workItemCmd())
	rootCmd.AddCommand(constraintCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("Config already present at %s\n", cfgPath)
				return nil
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", db.Path(workspace), cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "default", "project id for the generated config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook stored in commitline.yml: project identity and the constraint catalog that every constraint type must come from.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
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

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Work item counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountWorkItemsByState(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project_id": e.Config.Project.ID, "state_counts": counts})
				}
				fmt.Printf("Project: %s\n", e.Config.Project.ID)
				for _, state := range []domain.WorkItemState{
					domain.StateIntent, domain.StateNotReady, domain.StateReady,
					domain.StateCommitted, domain.StateComplete, domain.StateFailed,
				} {
					fmt.Printf("  %s: %d\n", state, counts[string(state)])
				}
				return nil
			})
		},
	}
	return cmd
}

func workItemCmd() *cobra.Command {
	wi := &cobra.Command{
		Use:   "workitem",
		Short: "Manage work items",
		Long:  "Work items flow Intent -> Not Ready -> Ready -> Committed -> Complete/Failed. Readiness is recomputed from constraints on every change; it cannot be set by hand.",
	}
	wi.AddCommand(workItemCreateCmd())
	wi.AddCommand(workItemListCmd())
	wi.AddCommand(workItemGetCmd())
	wi.AddCommand(workItemResetCmd())
	return wi
}

func workItemCreateCmd() *cobra.Command {
	var opts engine.WorkItemCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.OwnerUserID == "" {
				opts.OwnerUserID = opts.ActorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location on site")
	cmd.Flags().StringVar(&opts.OwnerUserID, "owner", "", "owner user id (defaults to actor)")
	cmd.Flags().StringVar(&opts.ReferencePlanSystem, "plan-system", "", "reference plan system (MSP, P6, Other)")
	cmd.Flags().StringVar(&opts.ReferencePlanExternalID, "plan-id", "", "reference plan external id")
	cmd.Flags().StringVar(&opts.ReferencePlanDatesJSON, "plan-dates-json", "", "reference plan dates JSON")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workItemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.State = domain.WorkItemState(state)
			if state != "" && !f.State.Valid() {
				return fmt.Errorf("invalid state %q", state)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Owner", "Location"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Title, w.State, w.OwnerUserID, w.Location})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().StringVar(&f.Owner, "owner", "", "owner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func workItemGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a work item with its constraints and commitments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkItem(ctx, id)
				if err != nil {
					return err
				}
				constraints, err := e.Repo.ListConstraints(ctx, w.ID)
				if err != nil {
					return err
				}
				commitments, err := e.Repo.ListCommitments(ctx, w.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"work_item":   w,
					"constraints": constraints,
					"commitments": commitments,
				})
			})
		},
	}
	return cmd
}

func workItemResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Reset a Complete or Failed work item to a fresh Intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.ResetWorkItem(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func constraintCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "constraint",
		Short: "Manage constraints",
		Long:  "Constraints are the named blockers on a work item. Types come from the catalog in commitline.yml. Clearing one records who vouched; reopening drops the item back to Not Ready.",
	}
	c.AddCommand(constraintAddCmd())
	c.AddCommand(constraintClearCmd())
	c.AddCommand(constraintReopenCmd())
	c.AddCommand(constraintListCmd())
	return c
}

func constraintAddCmd() *cobra.Command {
	var workItemID string
	var opts engine.ConstraintCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a constraint to a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddConstraint(ctx, workItemID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&workItemID, "work-item", "", "work item id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "constraint type from the catalog")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("work-item")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func constraintClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <id>",
		Short: "Clear a constraint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ClearConstraint(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func constraintReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a cleared constraint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ReopenConstraint(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func constraintListCmd() *cobra.Command {
	var workItemID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List constraints for a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListConstraints(ctx, workItemID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Cleared By"})
				for _, c := range items {
					clearedBy := ""
					if c.ClearedByUserID != nil {
						clearedBy = *c.ClearedByUserID
					}
					tw.AppendRow(table.Row{c.ID, c.Type, c.Status, clearedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workItemID, "work-item", "", "work item id")
	_ = cmd.MarkFlagRequired("work-item")
	return cmd
}

func commitCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "commit",
		Short: "Manage commitments",
		Long:  "A commitment is a promise to deliver Ready work by a due date. Commit on not-Ready work is refused with the open constraints listed; terms are immutable once made.",
	}
	c.AddCommand(commitCreateCmd())
	c.AddCommand(commitCompleteCmd())
	c.AddCommand(commitFailCmd())
	c.AddCommand(commitShowCmd())
	return c
}

func commitCreateCmd() *cobra.Command {
	var workItemID, owner, dueAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Commit to a Ready work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := time.Parse(time.RFC3339, dueAt)
			if err != nil {
				return fmt.Errorf("--due must be RFC3339: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCommitment(ctx, workItemID, engine.CommitmentCreateOptions{
					OwnerUserID: owner,
					DueAt:       due,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					var ref *engine.Refusal
					if errors.As(err, &ref) && !viper.GetBool("json") {
						fmt.Printf("REFUSED (%s): %s\n", ref.Code, ref.Message)
						for _, id := range ref.OpenConstraintIDs {
							fmt.Printf("  open constraint: %s\n", id)
						}
					}
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&workItemID, "work-item", "", "work item id")
	cmd.Flags().StringVar(&owner, "owner", "", "delivery owner (defaults to work item owner)")
	cmd.Flags().StringVar(&dueAt, "due", "", "due date, RFC3339")
	_ = cmd.MarkFlagRequired("work-item")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func commitCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a commitment (late completion is routed through failure)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CompleteCommitment(ctx, id, viper.GetString("actor-id"), time.Time{})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func commitFailCmd() *cobra.Command {
	var cause, secondary, notes string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Fail a commitment with a categorized cause",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, s, err := e.FailCommitment(ctx, id, viper.GetString("actor-id"), signal.Cause{
					Primary:   domain.PrimaryCause(cause),
					Secondary: secondary,
					Notes:     notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"commitment": c, "signal": s})
			})
		},
	}
	causes := make([]string, 0, len(domain.PrimaryCauses()))
	for _, c := range domain.PrimaryCauses() {
		causes = append(causes, string(c))
	}
	cmd.Flags().StringVar(&cause, "cause", "", "primary cause: "+strings.Join(causes, ", "))
	cmd.Flags().StringVar(&secondary, "secondary", "", "free-text secondary cause")
	cmd.Flags().StringVar(&notes, "notes", "", "notes (required when cause is Other)")
	_ = cmd.MarkFlagRequired("cause")
	return cmd
}

func commitShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCommitment(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func signalCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "signal",
		Short: "Learning signals",
		Long:  "Learning signals are the cause records behind failed commitments. Drilldown groups them by cause, location, and reference system so the recurring problems stand out.",
	}
	s.AddCommand(signalListCmd())
	s.AddCommand(signalDrilldownCmd())
	return s
}

func signalListCmd() *cobra.Command {
	var f repo.SignalFilters
	var cause string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learning signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Cause = domain.PrimaryCause(cause)
			if cause != "" && !f.Cause.Valid() {
				return fmt.Errorf("invalid cause %q", cause)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListLearningSignals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Cause", "Work Item", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.PrimaryCause, s.WorkItemID, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkItemID, "work-item", "", "work item filter")
	cmd.Flags().StringVar(&cause, "cause", "", "primary cause filter")
	cmd.Flags().StringVar(&f.Since, "since", "", "created at or after, RFC3339")
	cmd.Flags().StringVar(&f.Until, "until", "", "created at or before, RFC3339")
	return cmd
}

func signalDrilldownCmd() *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "drilldown",
		Short: "Aggregate signals by cause, location, and reference system",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListLearningSignals(ctx, repo.SignalFilters{Since: since, Until: until})
				if err != nil {
					return err
				}
				rows := signal.Aggregate(items)
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Cause", "Location", "System", "Count", "Latest"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.PrimaryCause, r.Location, r.ReferenceSystem, r.Count, r.LatestCreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "created at or after, RFC3339")
	cmd.Flags().StringVar(&until, "until", "", "created at or before, RFC3339")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "The append-only diary of every transition and refused attempt.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListAuditEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 50, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the plaintext is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":      key.ID,
					"actor":   key.ActorID,
					"api_key": plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
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
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("COMMITLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("COMMITLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Commitline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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

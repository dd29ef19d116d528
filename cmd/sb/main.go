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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"socialbrain/internal/app"
	"socialbrain/internal/classifier"
	"socialbrain/internal/config"
	"socialbrain/internal/db"
	"socialbrain/internal/domain"
	"socialbrain/internal/heartbeat"
	"socialbrain/internal/logging"
	"socialbrain/internal/server"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sb",
	Short: "Social Brain CLI",
	Long: `Social Brain runs the decision side of a social-media automation stack.
It keeps missions durable in SQLite, tracks model spend against per-mission
budgets, routes messages to the cheapest capable model tier, and drives a
companion desktop browser over its local REST API.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SOCIALBRAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(costCmd())
	rootCmd.AddCommand(proofCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter socialbrain.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the brain: HTTP API plus background heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Startup(ctx); err != nil {
					return err
				}
				pulse := heartbeat.NewPulse(a.Registry, a.Ledger, a.Config.Pulse.Endpoint, a.Log)
				if m := a.Config.Pulse.IntervalMinutes; m > 0 {
					pulse.Interval = time.Duration(m) * time.Minute
				}
				warmup := heartbeat.NewWarmup(a.Registry, a.Adapter, a.Config.Warmup.Platforms, a.Log)
				if h := a.Config.Warmup.IntervalHours; h > 0 {
					warmup.Interval = time.Duration(h) * time.Hour
				}

				handler, err := server.New(server.Config{
					Registry:           a.Registry,
					Ledger:             a.Ledger,
					Proof:              a.Proof,
					Journal:            a.Journal,
					Adapter:            a.Adapter,
					CheapModelOverride: a.Config.Routing.CheapModelOverride,
					Token:              a.Config.Server.Token,
					BasePath:           basePath,
					Log:                a.Log,
					ErrorHook:          pulse.RecordError,
				})
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				srv := &http.Server{Addr: a.Config.Server.Addr, Handler: handler}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return pulse.Run(gctx) })
				g.Go(func() error { return warmup.Run(gctx) })
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					fmt.Printf("Serving Social Brain API on http://%s%s\n", a.Config.Server.Addr, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

func statusCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mission counts and recent spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					stats domain.MissionStats
					err   error
				)
				if clientID == "" {
					stats, err = a.Registry.Stats(ctx)
				} else {
					stats, err = a.Registry.ClientStats(ctx, clientID)
				}
				if err != nil {
					return err
				}
				costs, err := a.Ledger.GlobalStats(ctx, 0)
				if err != nil {
					return err
				}
				out := map[string]any{
					"missions": stats,
					"cost_24h": costs,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Missions: %d total, %d active, %d completed, %d failed, %d cancelled\n",
					stats.Total, stats.Active, stats.Completed, stats.Failed, stats.Cancelled)
				fmt.Printf("Spend (24h): $%.4f across %d calls\n", costs.TotalCost, costs.RequestCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "restrict mission counts to one client")
	return cmd
}

func missionCmd() *cobra.Command {
	mission := &cobra.Command{
		Use:   "mission",
		Short: "Manage missions",
		Long:  "Missions are units of delegated work: QUEUED -> APPROVED -> EXECUTING -> CHECKPOINT, ending in COMPLETED, FAILED, or CANCELLED. Terminal missions are immutable.",
	}
	mission.AddCommand(missionCreateCmd())
	mission.AddCommand(missionListCmd())
	mission.AddCommand(missionShowCmd())
	mission.AddCommand(missionCancelCmd())
	mission.AddCommand(missionSweepCmd())
	return mission
}

func missionCreateCmd() *cobra.Command {
	var missionType, clientID, missionContext string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Registry.Create(ctx, domain.MissionType(missionType), clientID, missionContext)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&missionType, "type", "", "mission type (POST_SCHEDULE, RALPH_LOOP, AGENT_CHAT, ...)")
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&missionContext, "context", "", "JSON context blob")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func missionListCmd() *cobra.Command {
	var clientID, status, missionType string
	var limit int
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					missions []domain.Mission
					err      error
				)
				switch {
				case activeOnly:
					missions, err = a.Registry.ListActive(ctx, clientID)
				case status != "":
					missions, err = a.Registry.ListByStatus(ctx, domain.MissionStatus(status), limit)
				case missionType != "":
					missions, err = a.Registry.ListByType(ctx, domain.MissionType(missionType), limit)
				default:
					missions, err = a.Registry.ListByClient(ctx, clientID, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Client", "Updated"})
				for _, m := range missions {
					tw.AppendRow(table.Row{m.ID, m.Type, m.Status, m.ClientID,
						time.UnixMilli(m.UpdatedAt).UTC().Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&missionType, "type", "", "type filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only non-terminal missions")
	return cmd
}

func missionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show one mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Registry.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <mission-id>",
		Short: "Cancel a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Registry.UpdateStatus(ctx, args[0], domain.StatusCancelled, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func missionSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail missions orphaned by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Registry.FailZombies(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("swept %d mission(s)\n", n)
				return nil
			})
		},
	}
}

func costCmd() *cobra.Command {
	cost := &cobra.Command{Use: "cost", Short: "Inspect model spend"}
	cost.AddCommand(costStatsCmd())
	cost.AddCommand(costFallbackCmd())
	cost.AddCommand(costMissionCmd())
	cost.AddCommand(costClientCmd())
	return cost
}

func costStatsCmd() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate spend (default: trailing 24h)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Ledger.GlobalStats(ctx, since)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Total: $%.4f over %d calls (%d tokens)\n", stats.TotalCost, stats.RequestCount, stats.TotalTokens)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Model", "USD"})
				for model, usd := range stats.CostByModel {
					tw.AppendRow(table.Row{model, fmt.Sprintf("%.4f", usd)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "window start, epoch millis (0 = trailing 24h)")
	return cmd
}

func costFallbackCmd() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Primary vs fallback provider traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Ledger.FallbackStats(ctx, since)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "window start, epoch millis (0 = trailing 24h)")
	return cmd
}

func costMissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission <mission-id>",
		Short: "Spend for one mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				total, err := a.Ledger.MissionCost(ctx, args[0])
				if err != nil {
					return err
				}
				over, err := a.Ledger.IsOverBudget(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"total_usd": total, "over_budget": over})
			})
		},
	}
	return cmd
}

func costClientCmd() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "client <client-id>",
		Short: "Spend for one client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				total, err := a.Ledger.ClientCost(ctx, args[0], since)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"total_usd": total})
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "window start, epoch millis (0 = trailing 24h)")
	return cmd
}

func proofCmd() *cobra.Command {
	pc := &cobra.Command{Use: "proof", Short: "Inspect evidence packages"}
	pc.AddCommand(proofShowCmd())
	pc.AddCommand(proofGenerateCmd())
	pc.AddCommand(proofPruneCmd())
	return pc
}

func proofShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission's proof package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pkg, err := a.Proof.Get(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	return cmd
}

func proofGenerateCmd() *cobra.Command {
	var summary, status string
	cmd := &cobra.Command{
		Use:   "generate <mission-id>",
		Short: "Build a proof package from the activity trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pkg, err := a.Proof.Generate(ctx, args[0], a.Journal, summary, domain.ProofStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "human-readable mission summary")
	cmd.Flags().StringVar(&status, "status", string(domain.ProofSuccess), "success, partial, or failed")
	return cmd
}

func proofPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete proofs past retention limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				byAge, bySize, err := a.Proof.PruneOldProofs()
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d by age, %d by size\n", byAge, bySize)
				return nil
			})
		},
	}
}

func classifyCmd() *cobra.Command {
	var lastTool string
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Preview which model tier a message routes to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tier := classifier.SelectTier(strings.Join(args, " "), lastTool)
				return printJSONOrTable(map[string]any{
					"tier":           string(tier),
					"model":          classifier.ResolveModel(tier, a.Config.Routing.CheapModelOverride),
					"compact_prompt": classifier.UseCompactPrompt(tier),
				})
			})
		},
	}
	cmd.Flags().StringVar(&lastTool, "last-tool", "", "previous tool name, for continuation detection")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sb", version)
		},
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	log, err := logging.New(logging.Options{Level: viper.GetString("log-level"), Console: true})
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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

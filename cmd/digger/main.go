// Command digger runs the legacy data-platform discovery pipeline: submit
// artifact sources, review and approve plans, and serve the worker pool
// that extracts lineage into the catalog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"digger/internal/audit"
	"digger/internal/catalog"
	"digger/internal/config"
	"digger/internal/fetch"
	"digger/internal/llm"
	"digger/internal/logging"
	"digger/internal/pipeline"
	"digger/internal/planner"
	"digger/internal/prompt"
	"digger/internal/report"
	"digger/internal/store"
	"digger/internal/types"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "digger",
		Short:         "Legacy data platform discovery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(flagVerbose)
		},
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "digger.yml", "path to config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		serveCmd(),
		submitCmd(),
		approveCmd(),
		cancelCmd(),
		planCmd(),
		logsCmd(),
		auditCmd(),
		routingCmd(),
		sandboxCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}

func openStore() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			router, err := config.NewModelRouter(cfg.ConfigDir)
			if err != nil {
				return err
			}
			if err := router.Watch(); err != nil {
				return err
			}
			defer router.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			clients := map[string]llm.Client{
				"groq":       llm.NewGroqClient(cfg.Providers.GroqKey()),
				"openrouter": llm.NewOpenRouterClient(cfg.Providers.OpenRouterKey()),
			}
			if key := cfg.Providers.GeminiKey(); key != "" {
				gemini, err := llm.NewGeminiClient(ctx, key)
				if err != nil {
					return err
				}
				clients["gemini"] = gemini
			}

			recorder := audit.NewRecorder(st)
			runner := llm.NewRunner(router, clients, prompt.NewComposer(st, cfg.PromptsDir))
			runner.Audit = recorder

			syncer := catalog.NewSyncer(st)
			auditor := audit.NewAuditor(st)
			orch := pipeline.NewOrchestrator(
				st,
				fetch.New(cfg.StorageRoot, cfg.BucketRoot),
				planner.New(st),
				syncer,
				runner,
				recorder,
				audit.NewRefiner(st, auditor, syncer, runner),
				report.NewGenerator(st, cfg.ArtifactsRoot),
			)

			pool := pipeline.NewPool(st, orch, cfg.Workers, cfg.PollInterval)
			return pool.Run(ctx)
		},
	}
}

func submitCmd() *cobra.Command {
	var projectID, name string
	var noApproval bool
	cmd := &cobra.Command{
		Use:   "submit SOURCE",
		Short: "Register a source and enqueue a discovery job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			opts := pipeline.SubmitOptions{}
			if cmd.Flags().Changed("no-approval") {
				v := !noApproval
				opts.RequiresApproval = &v
			}
			job, err := pipeline.NewService(st).Submit(projectID, name, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s queued for project %s (approval required: %t)\n",
				job.ID, job.ProjectID, job.RequiresApproval)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project ID (generated when empty)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "solution display name")
	cmd.Flags().BoolVar(&noApproval, "no-approval", false, "skip the plan approval gate")
	return cmd
}

func approveCmd() *cobra.Command {
	var reject bool
	var reason string
	cmd := &cobra.Command{
		Use:   "approve JOB_ID",
		Short: "Approve (or reject) a job's plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc := pipeline.NewService(st)
			if reject {
				if err := svc.Reject(args[0], reason); err != nil {
					return err
				}
				fmt.Println("Plan rejected.")
				return nil
			}
			if err := svc.Approve(args[0]); err != nil {
				return err
			}
			fmt.Println("Plan approved; job re-enqueued.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the plan instead")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel PROJECT_ID",
		Short: "Cancel the active job for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			jobID, err := pipeline.NewService(st).Cancel(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Cancellation requested for job %s.\n", jobID)
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan JOB_ID",
		Short: "Show a job's plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			plan, err := pipeline.NewService(st).GetPlan(args[0])
			if err != nil {
				return err
			}
			if plan == nil {
				return fmt.Errorf("no plan for job %s", args[0])
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(plan)
			}
			printPlan(plan)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.AddCommand(planEditCmd())
	return cmd
}

func planEditCmd() *cobra.Command {
	var disable, enable bool
	var order int
	var area string
	cmd := &cobra.Command{
		Use:   "edit JOB_ID ITEM_ID",
		Short: "Edit a plan item before approval",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			patch := store.PlanItemPatch{}
			if enable || disable {
				v := enable
				patch.Enabled = &v
			}
			if cmd.Flags().Changed("order") {
				patch.OrderIndex = &order
			}
			if area != "" {
				patch.AreaID = &area
			}
			if err := pipeline.NewService(st).UpdatePlanItem(args[0], args[1], patch); err != nil {
				return err
			}
			fmt.Println("Plan item updated.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "include the item in the run")
	cmd.Flags().BoolVar(&disable, "disable", false, "exclude the item from the run")
	cmd.Flags().IntVar(&order, "order", 0, "new order index within the area")
	cmd.Flags().StringVar(&area, "area", "", "move the item to this area ID")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	return cmd
}

func printPlan(plan *types.Plan) {
	fmt.Printf("Plan %s [%s] mode=%s files=%d est_cost=$%.4f est_time=%s\n",
		plan.ID, plan.Status, plan.Mode, plan.Summary.TotalFiles,
		plan.Summary.TotalCostEst, time.Duration(plan.Summary.TotalTimeEst*float64(time.Second)).Round(time.Second))
	for _, area := range plan.Areas {
		fmt.Printf("\n%d. %s (%d files)\n", area.OrderIndex, area.Title, len(area.Items))
		for _, item := range area.Items {
			marker := " "
			if !item.Enabled {
				marker = "-"
			}
			fmt.Printf("  %s %-60s %-16s %s", marker, item.Path, item.Strategy, item.RecommendedAction)
			if item.Reason != "" {
				fmt.Printf("  (%s)", item.Reason)
			}
			fmt.Println()
		}
	}
}

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs JOB_ID",
		Short: "Show per-file processing logs for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := pipeline.NewService(st).GetJobLogs(args[0])
			if err != nil {
				return err
			}
			for _, l := range logs {
				fmt.Printf("%-8s %-50s %-24s model=%s tokens=%d/%d cost=$%.4f",
					l.Status, l.FilePath, l.ActionName, l.ModelUsed, l.TokensIn, l.TokensOut, l.CostEstimateUSD)
				if l.ErrorMessage != "" {
					fmt.Printf(" error=%s", l.ErrorMessage)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func routingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routing",
		Short: "Inspect and switch model routing",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available provider and routing files",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				router, err := config.NewModelRouter(cfg.ConfigDir)
				if err != nil {
					return err
				}
				provs, err := router.ListProviders()
				if err != nil {
					return err
				}
				routs, err := router.ListRoutings()
				if err != nil {
					return err
				}
				fmt.Println("Providers:")
				for _, p := range provs {
					fmt.Printf("  %s\n", p)
				}
				fmt.Println("Routings:")
				for _, r := range routs {
					fmt.Printf("  %s\n", r)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "use PROVIDER_FILE ROUTING_FILE",
			Short: "Activate a provider/routing pair",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				router, err := config.NewModelRouter(cfg.ConfigDir)
				if err != nil {
					return err
				}
				if err := router.Activate(args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Activated %s + %s.\n", args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage per-solution analysis artifacts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "save PROJECT_ID FILE",
			Short: "Copy a file into the solution sandbox",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				path, err := report.NewSandbox(cfg.ArtifactsRoot).Save(args[0], filepath.Base(args[1]), data)
				if err != nil {
					return err
				}
				fmt.Printf("Saved %s.\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list PROJECT_ID",
			Short: "List sandbox artifacts for a solution",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				names, err := report.NewSandbox(cfg.ArtifactsRoot).List(args[0])
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "cat PROJECT_ID NAME",
			Short: "Print one sandbox artifact",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				data, err := report.NewSandbox(cfg.ArtifactsRoot).Read(args[0], args[1])
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			},
		},
	)
	return cmd
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit PROJECT_ID",
		Short: "Show audit snapshots for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			snaps, err := pipeline.NewService(st).GetAuditHistory(args[0])
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Printf("%s  assets=%d edges=%d coverage=%.1f%% confidence=%.2f hypotheses=%.1f%%\n",
					s.CreatedAt.Format(time.RFC3339), s.Metrics.TotalAssets, s.Metrics.TotalRelationships,
					s.Metrics.CoverageScore, s.Metrics.AvgConfidence, s.Metrics.HypothesisRatio)
				for _, g := range s.Gaps {
					fmt.Printf("  gap: %s\n", g.Description)
				}
			}
			return nil
		},
	}
}

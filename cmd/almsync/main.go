package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/planops/almsync/internal/anaplan"
	"github.com/planops/almsync/internal/audit"
	"github.com/planops/almsync/internal/capacity"
	"github.com/planops/almsync/internal/catalog"
	"github.com/planops/almsync/internal/config"
	"github.com/planops/almsync/internal/directory"
	"github.com/planops/almsync/internal/executor"
	"github.com/planops/almsync/internal/httpserver"
	"github.com/planops/almsync/internal/orchestrator"
	"github.com/planops/almsync/internal/plan"
	"github.com/planops/almsync/internal/prompt"
)

func main() {
	root := &cobra.Command{
		Use:           "almsync",
		Short:         "Promote revision tags from dev to prod models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	if err := root.Execute(); err != nil {
		log.Fatalf("almsync: %v", err)
	}
}

func newRunCmd() *cobra.Command {
	var (
		pairsFile   string
		concurrency int
		autoApprove bool
		maxRisk     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured promotions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if pairsFile != "" {
				cfg.PairsFile = pairsFile
			}
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}
			return run(cmd.Context(), cfg, autoApprove, capacity.Risk(maxRisk))
		},
	}
	cmd.Flags().StringVar(&pairsFile, "pairs", "", "path to the pairs file (overrides ALMSYNC_PAIRS_FILE)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (overrides ALMSYNC_CONCURRENCY)")
	cmd.Flags().BoolVar(&autoApprove, "auto", false, "run unattended: promote latest tags, approve by policy")
	cmd.Flags().StringVar(&maxRisk, "max-risk", string(capacity.RiskSafe), "highest capacity risk --auto approves (safe|warn|block)")
	return cmd
}

func run(parent context.Context, cfg config.Config, autoApprove bool, maxRisk capacity.Risk) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stdout, "[almsync] ", log.LstdFlags)

	pairSpecs, err := config.LoadPairs(cfg.PairsFile)
	if err != nil {
		return err
	}
	if len(pairSpecs) == 0 {
		return fmt.Errorf("no pairs configured in %s", cfg.PairsFile)
	}
	logger.Printf("loaded %d pair(s) from %s", len(pairSpecs), cfg.PairsFile)

	client, err := anaplan.NewClient(anaplan.ClientConfig{
		BaseURL:        cfg.BaseURL,
		AuthURL:        cfg.AuthURL,
		Timeout:        cfg.RequestTimeout,
		PromoteTimeout: cfg.PromoteTimeout,
		Retries:        1,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	logger.Printf("authenticating...")
	if err := client.Authenticate(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	logger.Printf("authentication successful")

	dir := directory.New(client, logger)
	cat := catalog.New(client, catalog.Config{Logger: logger})
	exec := executor.New(client, executor.Config{
		EnableFallback: cfg.EnableFallback,
		UseSyncTask:    cfg.UseSyncTask,
		PollInterval:   cfg.PollInterval,
		Logger:         logger,
	})

	var selector plan.Selector
	var confirmer plan.Confirmer
	if autoApprove {
		policy := prompt.Policy{MaxRisk: maxRisk}
		selector, confirmer = policy, policy
	} else {
		interactive := prompt.NewInteractive(os.Stdin, os.Stdout, cat)
		selector, confirmer = interactive, interactive
		if cfg.Concurrency > 1 {
			logger.Printf("interactive mode: forcing concurrency 1 so prompts stay ordered")
			cfg.Concurrency = 1
		}
	}

	deltas := make(map[string]int64, len(pairSpecs))
	pairs := make([]orchestrator.Pair, 0, len(pairSpecs))
	for _, spec := range pairSpecs {
		deltas[spec.Source.Model] = spec.EstimatedDeltaBytes
		pairs = append(pairs, orchestrator.Pair{
			Source: directory.Ref{ModelID: spec.Source.Model, WorkspaceID: spec.Source.Workspace},
			Target: directory.Ref{ModelID: spec.Target.Model, WorkspaceID: spec.Target.Workspace},
		})
	}

	var recorder orchestrator.Recorder = audit.NewNopRecorder()
	if cfg.AuditDBURL != "" {
		db, err := sql.Open("postgres", cfg.AuditDBURL)
		if err != nil {
			return fmt.Errorf("audit db open: %w", err)
		}
		defer db.Close()
		pg := audit.NewPGRecorder(db)
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("audit db ping: %w", err)
		}
		recorder = pg
	}

	runner := plan.NewRunner(dir, cat, exec, plan.Config{
		Selector:  selector,
		Confirmer: confirmer,
		Delta:     func(source directory.Environment) int64 { return deltas[source.ModelID] },
		Logger:    logger,
	})
	orch := orchestrator.New(runner, orchestrator.Config{
		Concurrency: cfg.Concurrency,
		Recorder:    recorder,
		Logger:      logger,
	})

	if cfg.StatusAddr != "" {
		srv := &http.Server{Addr: cfg.StatusAddr, Handler: httpserver.New(orch).Router()}
		go func() {
			logger.Printf("status endpoint listening on %s", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("status server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	summary, err := orch.Run(ctx, pairs)
	if err != nil {
		return err
	}
	var failed int
	for _, e := range summary.Entries {
		if e.State == plan.StatePromoteFailed || e.State == plan.StateIncomplete {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pair(s) did not promote cleanly", failed, len(summary.Entries))
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/simonsobs/socm/internal/bookkeeper"
	"github.com/simonsobs/socm/internal/config"
	"github.com/simonsobs/socm/internal/enactor"
	"github.com/simonsobs/socm/internal/log"
	"github.com/simonsobs/socm/internal/model"
	"github.com/simonsobs/socm/internal/planner"
	"github.com/simonsobs/socm/internal/predictor"
	"github.com/simonsobs/socm/internal/resource"
	"github.com/simonsobs/socm/internal/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "socm",
	Short:   "socm - Simons Observatory campaign manager",
	Long:    "socm plans and drives the execution of deadline-bounded HPC campaigns onto a batch-scheduled cluster.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("socm version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	for _, flavor := range []string{"mapmaking", "null-test", "simulation"} {
		rootCmd.AddCommand(newCampaignCmd(flavor))
	}
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// newCampaignCmd builds one subcommand per campaign flavor
// (mapmaking/null-test/simulation): each takes --toml/-t and --dry-run,
// plus --resource/--deadline overrides for ad hoc runs.
func newCampaignCmd(flavor string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   flavor,
		Short: fmt.Sprintf("Run a %s campaign", flavor),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("toml")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			resourceOverride, _ := cmd.Flags().GetString("resource")
			deadlineOverride, _ := cmd.Flags().GetString("deadline")
			return runCampaign(path, flavor, dryRun, resourceOverride, deadlineOverride)
		},
	}
	cmd.Flags().StringP("toml", "t", "", "Path to the campaign document (required)")
	cmd.Flags().Bool("dry-run", false, "Run with the Dryrun enactor instead of a real batch system")
	cmd.Flags().String("resource", "", "Override the campaign document's target resource")
	cmd.Flags().String("deadline", "", "Override the campaign document's deadline (e.g. \"2d\", \"6h\")")
	cmd.MarkFlagRequired("toml")
	return cmd
}

func runCampaign(path, flavor string, dryRun bool, resourceOverride, deadlineOverride string) error {
	doc, err := config.Load(path)
	if err != nil {
		return err
	}
	if resourceOverride != "" {
		doc.Campaign.Resource = resourceOverride
	}
	if deadlineOverride != "" {
		doc.Campaign.Deadline = deadlineOverride
	}

	campaign, err := doc.ToCampaign(0)
	if err != nil {
		return err
	}

	res, err := resource.Resolve(campaign.TargetResourceName)
	if err != nil {
		return err
	}

	sessionID := fmt.Sprintf("socm.session.%s", uuid.New().String()[:8])
	sessionDir := filepath.Join(".", sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("socm: create session directory: %w", err)
	}

	ledger, err := storage.Open(sessionDir)
	if err != nil {
		return fmt.Errorf("socm: open session ledger: %w", err)
	}

	var en enactor.Enactor
	var recorder predictor.Recorder = predictor.NoopRecorder{}
	if dryRun {
		en = enactor.NewDryrun()
	} else {
		return fmt.Errorf("socm: no batch-system adapter is wired for flavor %q; pass --dry-run, or wire a real internal/batchsystem.System implementation", flavor)
	}

	bk := bookkeeper.New(bookkeeper.Config{
		Campaign:  campaign,
		Resource:  res,
		Planner:   planner.New(),
		Enactor:   en,
		Predictor: nil,
		Recorder:  recorder,
		Ledger:    ledger,
		Dryrun:    dryRun,
		SessionID: sessionID,
	})

	logger := log.WithSession(sessionID)
	logger.Info().Str("flavor", flavor).Str("resource", res.String()).Msg("starting campaign")

	if err := bk.Run(context.Background()); err != nil {
		return fmt.Errorf("socm: campaign terminated with errors: %w", err)
	}

	if bk.GetCampaignState() != model.StateDone {
		return fmt.Errorf("socm: campaign finished in state %s", bk.GetCampaignState())
	}

	logger.Info().Msg("campaign completed successfully")
	return nil
}

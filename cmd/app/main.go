package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"media-orchestrator/internal/bootstrap"
	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/events"
	"media-orchestrator/internal/log"
	"media-orchestrator/internal/monitor"
)

var (
	app *bootstrap.App

	flagConfigPath string
	flagVerbose    bool
	flagWarm       bool

	flagDir          string
	flagReport       string
	flagNoVAD        bool
	flagVADThreshold float64
	flagSkipExisting bool
	flagStart        float64
	flagEnd          float64
	flagOutputDir    string
	flagEmbedModel   string
	flagAnalyzeType  string
	flagProvider     string
	flagCloudModel   string
	flagDevice       string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "settings file to load (default ~/.media-orchestrator/settings.json)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initApp

	for _, c := range []*cobra.Command{scanCmd, vadScanCmd, transcribeCmd} {
		c.Flags().BoolVar(&flagWarm, "warm", false, "run through the persistent worker, starting it if needed")
		c.Flags().StringVar(&flagDevice, "device", "", "compute device override (auto, cuda, cpu)")
	}

	scanCmd.Flags().StringVar(&flagDir, "dir", "", "media directory to scan")
	scanCmd.Flags().StringVar(&flagReport, "report", "", "write the scan report to this path")
	scanCmd.Flags().BoolVar(&flagNoVAD, "no-vad", false, "disable voice activity detection filtering")

	vadScanCmd.Flags().StringVar(&flagDir, "dir", "", "media directory to scan")
	vadScanCmd.Flags().StringVar(&flagReport, "report", "", "write the scan report to this path")
	vadScanCmd.Flags().Float64Var(&flagVADThreshold, "vad-threshold", 0, "voice activity threshold override")
	vadScanCmd.Flags().BoolVar(&flagSkipExisting, "skip-existing", false, "skip files that already have transcripts")

	transcribeCmd.Flags().Float64Var(&flagStart, "start", 0, "start offset in seconds")
	transcribeCmd.Flags().Float64Var(&flagEnd, "end", 0, "end offset in seconds")
	transcribeCmd.Flags().StringVar(&flagOutputDir, "output-dir", "", "transcript output directory")
	transcribeCmd.Flags().BoolVar(&flagSkipExisting, "skip-existing", false, "skip when a transcript already exists")

	searchCmd.Flags().StringVar(&flagDir, "dir", "", "media directory whose transcripts are searched")
	searchCmd.Flags().StringVar(&flagEmbedModel, "embed-model", "", "sentence embedding model override")

	analyzeCmd.Flags().StringVar(&flagAnalyzeType, "type", "", "analysis type (summary, action_items, topics)")
	analyzeCmd.Flags().StringVar(&flagProvider, "provider", "", "analysis provider override")
	analyzeCmd.Flags().StringVar(&flagCloudModel, "cloud-model", "", "cloud model override")

	detectCmd.Flags().StringVar(&flagDir, "dir", "", "media directory to inspect")
	detectCmd.Flags().StringVar(&flagProvider, "provider", "", "analysis provider override")
	detectCmd.Flags().StringVar(&flagCloudModel, "cloud-model", "", "cloud model override")

	rootCmd.AddCommand(scanCmd, vadScanCmd, transcribeCmd,
		searchCmd, analyzeCmd, detectCmd, timestampsCmd,
		statusCmd, doctorCmd, killAllCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "media-orchestrator",
	Short:        "Orchestrates transcription engine processes over a media library",
	SilenceUsage: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the media library for files containing speech",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := domain.NewCommand(domain.ActionScan)
		withString(&c, domain.ParamDirectory, flagDir)
		withString(&c, domain.ParamReportPath, flagReport)
		withString(&c, domain.ParamDevice, flagDevice)
		if flagNoVAD {
			c = c.With(domain.ParamUseVAD, false)
		}
		return runForeground(cmd, c)
	},
}

var vadScanCmd = &cobra.Command{
	Use:   "vadscan",
	Short: "Scan with voice-activity prefiltering only",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := domain.NewCommand(domain.ActionVADScan)
		withString(&c, domain.ParamDirectory, flagDir)
		withString(&c, domain.ParamReportPath, flagReport)
		withString(&c, domain.ParamDevice, flagDevice)
		if flagVADThreshold > 0 {
			c = c.With(domain.ParamVADThreshold, flagVADThreshold)
		}
		if flagSkipExisting {
			c = c.With(domain.ParamSkipExisting, true)
		}
		return runForeground(cmd, c)
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe one media file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := domain.NewCommand(domain.ActionTranscribe).With(domain.ParamFile, args[0])
		withString(&c, domain.ParamOutputDir, flagOutputDir)
		withString(&c, domain.ParamDevice, flagDevice)
		if flagStart > 0 {
			c = c.With(domain.ParamStart, flagStart)
		}
		if flagEnd > 0 {
			c = c.With(domain.ParamEnd, flagEnd)
		}
		if flagSkipExisting {
			c = c.With(domain.ParamSkipExisting, true)
		}
		return runForeground(cmd, c)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search across transcripts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := domain.NewCommand(domain.ActionSemanticSearch).With(domain.ParamQuery, args[0])
		withString(&c, domain.ParamDirectory, flagDir)
		withString(&c, domain.ParamEmbedModel, flagEmbedModel)
		return runBackground(cmd, c)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "LLM analysis of one transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := domain.NewCommand(domain.ActionAnalyze).With(domain.ParamFile, args[0])
		withString(&c, domain.ParamAnalyzeType, flagAnalyzeType)
		withString(&c, domain.ParamProvider, flagProvider)
		withString(&c, domain.ParamCloudModel, flagCloudModel)
		return runBackground(cmd, c)
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect meeting recordings across the library",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := domain.NewCommand(domain.ActionDetectMeetings)
		withString(&c, domain.ParamDirectory, flagDir)
		withString(&c, domain.ParamProvider, flagProvider)
		withString(&c, domain.ParamCloudModel, flagCloudModel)
		return runBackground(cmd, c)
	},
}

var timestampsCmd = &cobra.Command{
	Use:   "timestamps <file>",
	Short: "Extract visible timestamps from one recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackground(cmd, domain.NewCommand(domain.ActionExtractTimestamps).
			With(domain.ParamFile, args[0]))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report engine process activity on this host",
	RunE: func(cmd *cobra.Command, _ []string) error {
		snap := app.Status(cmd.Context())
		switch snap.Status {
		case monitor.StatusActiveManaged:
			fmt.Println("engine: running (managed by this orchestrator)")
		case monitor.StatusRunningUnmanaged:
			fmt.Printf("engine: %d unmanaged process(es) running\n", snap.Unmanaged)
		default:
			fmt.Println("engine: idle")
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run environment and configuration diagnostics",
	RunE: func(_ *cobra.Command, _ []string) error {
		report := app.RefreshDiagnostics()
		for _, item := range report.Items {
			fmt.Printf("[%s] %s: %s\n", item.Status, item.Name, item.Message)
			if item.Hint != "" {
				fmt.Printf("       %s\n", item.Hint)
			}
		}
		if report.HasFailures {
			return fmt.Errorf("diagnostics reported failures")
		}
		return nil
	},
}

var killAllCmd = &cobra.Command{
	Use:   "killall",
	Short: "Stop the managed worker and kill stray engine processes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		n, err := app.KillAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("killed %d stray engine process tree(s)\n", n)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(_ *cobra.Command, _ []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("media-orchestrator: version info not available")
			return
		}
		fmt.Printf("media-orchestrator: %s\n", info.Main.Version)
		fmt.Printf("go: %s\n", info.GoVersion)
	},
}

func initApp(_ *cobra.Command, _ []string) error {
	logger := log.New(flagVerbose)
	slog.SetDefault(logger)

	var err error
	app, err = bootstrap.New(bootstrap.Options{
		ConfigPath: flagConfigPath,
		Logger:     logger,
	})
	return err
}

// withString sets the parameter only when the flag was given.
func withString(c *domain.Command, key, value string) {
	if value != "" {
		*c = c.With(key, value)
	}
}

// runForeground dispatches through the single-flight slot and follows
// the job's output until it finishes. Ctrl-C cancels the job.
func runForeground(cmd *cobra.Command, command domain.Command) error {
	if flagWarm {
		if err := app.WarmUp(); err != nil {
			return fmt.Errorf("start persistent worker: %w", err)
		}
	}
	defer shutdown()

	sub := app.Subscribe()
	defer sub.Close()

	job, err := app.Dispatch(command)
	if err != nil {
		return err
	}
	return follow(cmd, sub, job, app.Cancel)
}

// runBackground dispatches outside the slot and follows the job.
func runBackground(cmd *cobra.Command, command domain.Command) error {
	defer shutdown()

	sub := app.Subscribe()
	defer sub.Close()

	job, err := app.DispatchBackground(command)
	if err != nil {
		return err
	}
	return follow(cmd, sub, job, func() { _ = app.CancelJob(job.ID) })
}

// follow prints job output until a terminal status arrives. An
// interrupt cancels the job; the follower keeps draining so the
// cancelled status is still observed and reported.
func follow(cmd *cobra.Command, sub *events.Subscription, job domain.Job, cancel func()) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		cancel()
	}()

	for e := range sub.C {
		// Warm-worker output is tagged with the worker feed ID rather
		// than the job ID it currently serves.
		if e.JobID != job.ID && e.JobID != bootstrap.WorkerJobID {
			continue
		}

		if e.Type == events.TypeStatus {
			switch e.Status {
			case domain.JobStatusDone:
				return nil
			case domain.JobStatusCancelled:
				return fmt.Errorf("%s was cancelled", job.Action)
			case domain.JobStatusFailed:
				return fmt.Errorf("%s failed: %s", job.Action, e.Message)
			}
			continue
		}
		if e.Message != "" {
			fmt.Println(e.Message)
		}
	}
	return fmt.Errorf("event feed closed before %s finished", job.Action)
}

func shutdown() {
	ctx, cancel := bootstrap.ShutdownContext()
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	settingsPath       string
	outputFile         string
	neighborhoodsFile  string
	checkpointFile     string
	systemPromptPath   string
	apiKey             string
	checkpointInterval int
	pacingDelay        time.Duration
	requestTimeout     time.Duration
	maxRetries         int
	forceImport        bool
	sampleSize         int
	sampleSeed         int64
	sampleOutput       string
	debugMode          bool
	debugEnabled       bool
)

var rootCmd = &cobra.Command{
	Use:   "news-classifier [input-file]",
	Short: "Classify news articles by San Francisco neighborhood using AI",
	Long: `Classifies every article in a CSV file into a neighborhood or a scope label
(citywide, regional, statewide, national, international, unknown) using an
Anthropic model. Progress is checkpointed so an interrupted run resumes where
it stopped.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load environment variables from .env if present (non-fatal if missing)
		_ = godotenv.Load()
		if debugMode {
			SetDebugMode(true)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := NewConfig(buildOverrides(cmd, args))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runClassification(ctx, config, resolveAPIKey())
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <progress-file>",
	Short: "Seed the checkpoint from a legacy progress CSV",
	Long: `Converts a progress file written by the earlier classification script
(input columns plus neighborhood, confidence and rationale) into a checkpoint,
so the next run only classifies the remaining articles.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := NewConfig(buildOverrides(cmd, nil))
		if err != nil {
			return err
		}
		return importLegacy(config, args[0], forceImport)
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample [input-file]",
	Short: "Classify a reproducible random sample for review",
	Long: `Classifies a seeded random sample of the input articles and writes them to a
review CSV. The same seed always picks the same articles. The checkpoint and
output file of the full run are left untouched.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := NewConfig(buildOverrides(cmd, args))
		if err != nil {
			return err
		}

		path := sampleOutput
		if path == "" {
			path = samplePath(config.Settings.OutputFile)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSample(ctx, config, resolveAPIKey(), sampleSize, sampleSeed, path)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsPath, "settings", "", "Path to settings YAML file")
	flags.StringVar(&outputFile, "output", "", "Output CSV file")
	flags.StringVar(&neighborhoodsFile, "neighborhoods", "", "Neighborhood reference CSV (canonical,aliases)")
	flags.StringVar(&checkpointFile, "checkpoint", "", "Checkpoint file (default <output>.checkpoint.json)")
	flags.BoolVar(&debugMode, "debug", false, "Enable debug logging")

	flags.StringVar(&apiKey, "api-key", "", "Anthropic API key")
	flags.StringVar(&systemPromptPath, "system-prompt", "", "Path to custom system prompt template")
	flags.DurationVar(&pacingDelay, "delay", 0, "Minimum delay between API calls")
	flags.DurationVar(&requestTimeout, "timeout", 0, "Per-call timeout")
	flags.IntVar(&maxRetries, "max-retries", 0, "Attempts per record on transient errors")
	rootCmd.Flags().IntVar(&checkpointInterval, "interval", 0, "Records between checkpoints")

	importLegacyCmd.Flags().BoolVar(&forceImport, "force", false, "Overwrite an existing checkpoint")
	rootCmd.AddCommand(importLegacyCmd)

	sampleCmd.Flags().IntVar(&sampleSize, "size", defaultSampleSize, "Number of articles to sample")
	sampleCmd.Flags().Int64Var(&sampleSeed, "seed", defaultSampleSeed, "Random seed for picking the sample")
	sampleCmd.Flags().StringVar(&sampleOutput, "sample-output", "", "Review CSV (default <output>.sample.csv)")
	rootCmd.AddCommand(sampleCmd)
}

// buildOverrides turns explicitly set flags into config overrides
func buildOverrides(cmd *cobra.Command, args []string) *ConfigOverrides {
	overrides := &ConfigOverrides{}
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("settings") {
		overrides.SettingsPath = &settingsPath
	}
	if len(args) > 0 {
		overrides.InputFile = &args[0]
	}
	if changed("output") {
		overrides.OutputFile = &outputFile
	}
	if changed("neighborhoods") {
		overrides.NeighborhoodsFile = &neighborhoodsFile
	}
	if changed("checkpoint") {
		overrides.CheckpointFile = &checkpointFile
	}
	if changed("system-prompt") {
		overrides.SystemPromptPath = &systemPromptPath
	}
	if changed("interval") {
		overrides.CheckpointInterval = &checkpointInterval
	}
	if changed("delay") {
		overrides.PacingDelay = &pacingDelay
	}
	if changed("timeout") {
		overrides.RequestTimeout = &requestTimeout
	}
	if changed("max-retries") {
		overrides.MaxRetries = &maxRetries
	}
	return overrides
}

func resolveAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// SetDebugMode enables or disables debug logging
func SetDebugMode(enabled bool) {
	debugEnabled = enabled
}

func debugLog(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// pipeline holds the components shared by full and sample runs
type pipeline struct {
	classifier *AnthropicClassifier
	parser     *ResponseParser
	dataset    *Dataset
}

// newPipeline loads the reference data, prompts and input dataset
func newPipeline(config *Config, key string) (*pipeline, error) {
	settings := config.Settings

	if strings.TrimSpace(key) == "" {
		return nil, &ServiceError{Kind: ErrFatalService, Err: errMissingAPIKey}
	}

	catalog, err := LoadCatalog(settings.NeighborhoodsFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d neighborhoods", catalog.Len())

	systemPrompt, err := config.GetSystemPrompt()
	if err != nil {
		return nil, err
	}
	prompts, err := NewPromptBuilder(systemPrompt, config.GetUserPrompt(), catalog, settings.IgnorePhrases, NewContentNormalizer(settings.BodyMaxChars))
	if err != nil {
		return nil, err
	}

	classifier, err := NewAnthropicClassifier(key, config, prompts)
	if err != nil {
		return nil, err
	}

	dataset, err := ReadDataset(settings.InputFile, settings.Columns)
	if err != nil {
		return nil, err
	}
	log.Printf("Read %d articles from %s", len(dataset.Records), settings.InputFile)

	return &pipeline{
		classifier: classifier,
		parser:     NewResponseParser(catalog, settings.IgnorePhrases, settings.RationaleMaxChars),
		dataset:    dataset,
	}, nil
}

// runClassification wires the components together and runs the batch
func runClassification(ctx context.Context, config *Config, key string) error {
	settings := config.Settings

	p, err := newPipeline(config, key)
	if err != nil {
		return err
	}
	dataset := p.dataset

	store := NewFileCheckpoint(settings.CheckpointPath())
	runner := NewRunner(p.classifier, p.parser, store, RunnerOptionsFromSettings(settings))

	state, err := runner.LoadState(store.Path(), dataset.Header)
	if err != nil {
		return err
	}

	log.Printf("Classifying with %s", p.classifier.Model())
	summary, runErr := runner.Run(ctx, dataset.Records, state)
	if runErr != nil {
		if summary != nil {
			fmt.Println(RenderSummary(summary, ""))
		}
		if errors.Is(runErr, errInterrupted) {
			log.Printf("Process interrupted. Progress saved to %s", store.Path())
		}
		return runErr
	}

	if err := WriteOutput(settings.OutputFile, dataset.Header, state.Ordered(dataset.Records)); err != nil {
		return fmt.Errorf("writing output %s: %w", settings.OutputFile, err)
	}
	log.Printf("✓ Final results saved to %s", settings.OutputFile)

	fmt.Println(RenderSummary(summary, settings.OutputFile))
	return nil
}

// runSample classifies a seeded random sample into a review file
func runSample(ctx context.Context, config *Config, key string, size int, seed int64, path string) error {
	p, err := newPipeline(config, key)
	if err != nil {
		return err
	}

	log.Printf("Classifying sample with %s", p.classifier.Model())
	summary, err := classifySample(ctx, p.classifier, p.parser, p.dataset, RunnerOptionsFromSettings(config.Settings), size, seed, path)
	if err != nil {
		if summary != nil {
			fmt.Println(RenderSummary(summary, ""))
		}
		return err
	}
	log.Printf("✓ Sample saved to %s", path)

	fmt.Println(RenderSummary(summary, path))
	return nil
}

// importLegacy seeds the checkpoint from a legacy progress file
func importLegacy(config *Config, progressPath string, force bool) error {
	settings := config.Settings

	catalog, err := LoadCatalog(settings.NeighborhoodsFile)
	if err != nil {
		return err
	}
	dataset, err := ReadDataset(settings.InputFile, settings.Columns)
	if err != nil {
		return err
	}

	store := NewFileCheckpoint(settings.CheckpointPath())
	if !force {
		if _, err := os.Stat(store.Path()); err == nil {
			return fmt.Errorf("checkpoint %s already exists (use --force to overwrite)", store.Path())
		}
	}

	parser := NewResponseParser(catalog, settings.IgnorePhrases, settings.RationaleMaxChars)
	state, err := ImportLegacy(progressPath, settings.Columns.ID, parser)
	if err != nil {
		return err
	}
	if err := checkCompatible(progressPath, state, dataset.Header); err != nil {
		return err
	}

	if err := store.Save(state); err != nil {
		return err
	}
	log.Printf("✓ Checkpoint written to %s (%d rows)", store.Path(), state.Len())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(exitCode(err))
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jfellner/newsriver/internal/config"
	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/dedup"
	"github.com/jfellner/newsriver/internal/pipeline"
	"github.com/jfellner/newsriver/internal/preview"
	"github.com/jfellner/newsriver/internal/scraper"
	"github.com/jfellner/newsriver/internal/spam"
	"github.com/jfellner/newsriver/internal/store"
	"github.com/jfellner/newsriver/internal/validation"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	dataDir    string
)

func main() {
	root := &cobra.Command{
		Use:           "newsriver",
		Short:         "Multi-source news ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")

	root.AddCommand(
		newServeCmd(),
		newCycleCmd(),
		newSourcesCmd(),
		newCleanupCmd(),
		newGenerateConfigCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs after startup.
type app struct {
	cfg     *config.Config
	store   *store.Store
	manager *pipeline.Manager
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.Path); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	validator := validation.NewURLValidator()
	if cfg.Scraping.AllowPrivateURLs {
		validator = validation.NewPermissiveURLValidator()
	}

	classifier := spam.NewClassifier(spam.Config{
		ScoreThreshold: cfg.Spam.ScoreThreshold,
		TrustedSources: cfg.Spam.TrustedSources,
		ExtraKeywords:  cfg.Spam.ExtraKeywords,
	})

	resolver := preview.NewResolver(preview.Config{
		TTL:          cfg.Preview.TTL,
		FetchTimeout: cfg.Preview.FetchTimeout,
		MaxPerBody:   cfg.Preview.MaxPerBody,
		UserAgent:    cfg.Scraping.UserAgent,
		Providers:    cfg.Preview.Providers,
	}, st.Previews(), validator)

	manager := pipeline.NewManager(pipeline.Config{
		Workers:       cfg.Scraping.Workers,
		SourceTimeout: cfg.Scraping.SourceTimeout,
		Scraper: scraper.Options{
			HTTPTimeout:     cfg.Scraping.HTTPTimeout,
			UserAgent:       cfg.Scraping.UserAgent,
			MaxItemsDefault: cfg.Scraping.MaxItemsDefault,
			Validator:       validator,
		},
		Dedup: dedup.Config{
			SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
			WindowAge:           cfg.Dedup.WindowAge,
			WindowSize:          cfg.Dedup.WindowSize,
		},
	}, st, classifier, resolver)

	return &app{cfg: cfg, store: st, manager: manager}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("newsriver %s\n", Version)
			fmt.Println("Multi-source news ingestion pipeline")
			fmt.Println("github.com/jfellner/newsriver")
		},
	}
}

func newGenerateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := os.UserHomeDir()
			configFile := filepath.Join(home, ".config", "newsriver", "config.toml")
			if configPath != "" {
				configFile = configPath
			}

			if err := config.GenerateDefaultConfig(configFile); err != nil {
				return fmt.Errorf("generating config: %w", err)
			}
			fmt.Printf("Generated default configuration at: %s\n", configFile)
			return nil
		},
	}
}

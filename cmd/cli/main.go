package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "soundmatch",
		Short: "Recognize music from the microphone or audio files",
		Long: `soundmatch fingerprints audio and matches it against a local reference
library or a user-authored catalog. Matches are kept in a searchable history.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./soundmatch.yaml)")
	flags.String("data-dir", "soundmatch-data", "directory holding catalogs, history and the reference library")
	flags.String("library-dsn", "", "reference library: SQLite path or postgres:// URL (default <data-dir>/library.sqlite3)")
	flags.String("temp-dir", os.TempDir(), "directory for temporary audio conversion files")
	flags.Int("rate", 11025, "analysis sample rate in Hz")
	flags.Int("min-score", 5, "minimum aligned landmarks for a candidate")
	flags.String("catalog", "", "catalog id to load for matching")
	flags.Bool("offline", false, "match only against the loaded catalog")
	flags.Bool("prefer-catalog", false, "prefer the loaded catalog over the reference library")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	for _, name := range []string{"data-dir", "library-dsn", "temp-dir", "rate", "min-score", "catalog", "offline", "prefer-catalog", "log-level"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("soundmatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SOUNDMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if lvl := viper.GetString("log-level"); lvl != "" {
		if level, err := logger.ParseLevel(lvl); err == nil {
			logger.SetLevel(level)
		} else {
			logger.Warnf("Ignoring log level: %v", err)
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Infof("Using config file: %s", viper.ConfigFileUsed())
	}
}

func libraryDSN() string {
	if dsn := viper.GetString("library-dsn"); dsn != "" {
		return dsn
	}
	// Shared with other tools that read DATABASE_URL from .env.
	return os.Getenv("DATABASE_URL")
}

// openApp builds the recognition context from the resolved configuration
// and loads the configured catalog, if any.
func openApp() (*soundmatch.App, error) {
	log := logger.GetLogger()

	app, err := soundmatch.New(
		soundmatch.WithDataDir(viper.GetString("data-dir")),
		soundmatch.WithLibraryDSN(libraryDSN()),
		soundmatch.WithTempDir(viper.GetString("temp-dir")),
		soundmatch.WithSampleRate(viper.GetInt("rate")),
		soundmatch.WithMinScore(viper.GetInt("min-score")),
		soundmatch.WithOfflineMode(viper.GetBool("offline")),
		soundmatch.WithPreferCatalog(viper.GetBool("prefer-catalog")),
		soundmatch.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	if id := viper.GetString("catalog"); id != "" {
		report, err := app.UseCatalog(id)
		if err != nil {
			app.Close()
			return nil, err
		}
		log.Infof("Loaded catalog %q (%d items)", report.Meta.Name, report.Loaded)
	}
	return app, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package soundmatch

import (
	"os"

	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

type Config struct {
	DataDir       string
	LibraryDSN    string // SQLite path or postgres:// URL; defaults to DataDir/library.sqlite3
	TempDir       string
	SampleRate    int
	MinScore      int
	OfflineMode   bool
	PreferCatalog bool
	Logger        Logger
}

type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

func WithLibraryDSN(dsn string) Option {
	return func(c *Config) {
		c.LibraryDSN = dsn
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithMinScore(n int) Option {
	return func(c *Config) {
		c.MinScore = n
	}
}

func WithOfflineMode(on bool) Option {
	return func(c *Config) {
		c.OfflineMode = on
	}
}

func WithPreferCatalog(on bool) Option {
	return func(c *Config) {
		c.PreferCatalog = on
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func defaultConfig() *Config {
	return &Config{
		DataDir:    "soundmatch-data",
		TempDir:    os.TempDir(),
		SampleRate: fingerprint.DefaultSampleRate,
		MinScore:   fingerprint.DefaultMinScore,
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/app"
	"github.com/edi-forensics/hwid-console/internal/bus"
	"github.com/edi-forensics/hwid-console/internal/logging"
	"github.com/edi-forensics/hwid-console/internal/store"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

var (
	cfgFile      string
	apiURL       string
	apiToken     string
	dbPath       string
	redisURL     string
	logLevel     string
	investigator string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hwid-console",
	Short: "Terminal console for forensic handwriting identification",
	Long: `hwid-console drives a handwriting-identification backend from the terminal.

Features:
- Case workflow: create a case, upload evidence, select suspects, run matching
- Persons database with search and CSV export
- Local SQLite journal of cases, samples and an audit trail
- Optional Redis stream of workflow events
- Evidence folder watching for scanner workstations`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hwid-console.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", api.DefaultBaseURL, "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token for the backend (optional)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/hwid-console.db", "SQLite journal path (empty disables the journal)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis URL for workflow events (empty disables the bus)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&investigator, "investigator", "investigator", "Investigator name recorded on cases and journal entries")

	// Bind flags to viper
	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api"))
	viper.BindPFlag("api.token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("investigator", rootCmd.PersistentFlags().Lookup("investigator"))
}

// initConfig reads .env, the config file and HWID_* environment variables.
func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hwid-console")
	}

	viper.SetEnvPrefix("HWID")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("api.url", api.DefaultBaseURL)
	viper.SetDefault("database.path", "./data/hwid-console.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("investigator", "investigator")
	viper.SetDefault("workflow.upload_concurrency", 0)
	viper.SetDefault("workflow.close_delay", workflow.DefaultCloseDelay)
	viper.SetDefault("workflow.progress_interval", workflow.DefaultProgressInterval)
	viper.SetDefault("workflow.progress_cap", workflow.DefaultProgressCap)
	viper.SetDefault("workflow.request_timeout", time.Duration(0))
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		API: APIConfig{
			URL:   viper.GetString("api.url"),
			Token: viper.GetString("api.token"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Investigator: viper.GetString("investigator"),
		Workflow: WorkflowConfig{
			UploadConcurrency: viper.GetInt("workflow.upload_concurrency"),
			CloseDelay:        viper.GetDuration("workflow.close_delay"),
			ProgressInterval:  viper.GetDuration("workflow.progress_interval"),
			ProgressCap:       viper.GetFloat64("workflow.progress_cap"),
			RequestTimeout:    viper.GetDuration("workflow.request_timeout"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	API          APIConfig      `mapstructure:"api"`
	Database     DatabaseConfig `mapstructure:"database"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Log          LogConfig      `mapstructure:"log"`
	Investigator string         `mapstructure:"investigator"`
	Workflow     WorkflowConfig `mapstructure:"workflow"`
}

type APIConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type WorkflowConfig struct {
	UploadConcurrency int           `mapstructure:"upload_concurrency"`
	CloseDelay        time.Duration `mapstructure:"close_delay"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
	ProgressCap       float64       `mapstructure:"progress_cap"`
	// RequestTimeout bounds each backend call. Zero leaves calls unbounded.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// cliLogger logs to stderr so command output on stdout stays clean.
func cliLogger(cmd *cobra.Command, cfg Config) *zap.Logger {
	return logging.New(cfg.Log.Level, cmd.ErrOrStderr())
}

func newClient(cfg Config, logger *zap.Logger) *api.Client {
	return api.NewClient(api.Options{
		BaseURL: cfg.API.URL,
		Token:   cfg.API.Token,
		Timeout: cfg.Workflow.RequestTimeout,
		Logger:  logger,
	})
}

// openJournal opens the local journal, or returns nil when it is disabled.
func openJournal(cfg Config) (*store.Store, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	path := resolvePathRelativeToBase(getWorkingDir(), cfg.Database.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	st, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	return st, nil
}

// runtime bundles what most subcommands need. Close releases all of it.
type runtime struct {
	cfg     Config
	logger  *zap.Logger
	client  *api.Client
	journal *store.Store
	bus     bus.Bus
	svc     *app.Service
}

func newRuntime(cfg Config, logger *zap.Logger) (*runtime, error) {
	journal, err := openJournal(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		client:  newClient(cfg, logger),
		journal: journal,
		bus:     bus.NewBus(cfg.Redis.URL, logger),
	}
	rt.svc = app.New(app.Options{
		Backend:           rt.client,
		Store:             journal,
		Bus:               rt.bus,
		Investigator:      cfg.Investigator,
		UploadConcurrency: cfg.Workflow.UploadConcurrency,
		CloseDelay:        cfg.Workflow.CloseDelay,
		ProgressInterval:  cfg.Workflow.ProgressInterval,
		ProgressCap:       cfg.Workflow.ProgressCap,
		Logger:            logger,
	})
	return rt, nil
}

// start publishes workflow events in the background until ctx ends.
func (rt *runtime) start(ctx context.Context) {
	go func() {
		if err := rt.svc.Run(ctx); err != nil && ctx.Err() == nil {
			rt.logger.Warn("workflow recorder stopped", zap.Error(err))
		}
	}()
}

func (rt *runtime) Close() {
	rt.svc.Close()
	rt.svc.Flush()
	if err := rt.bus.Close(); err != nil {
		rt.logger.Debug("bus close", zap.Error(err))
	}
	if rt.journal != nil {
		rt.journal.Close()
	}
}

// getWorkingDir returns the current working directory.
// Falls back to the executable directory if os.Getwd fails.
func getWorkingDir() string {
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}
	return "."
}

// resolvePathRelativeToBase resolves a possibly relative path against a base directory.
// Absolute paths and the in-memory journal are returned unchanged.
func resolvePathRelativeToBase(base, p string) string {
	if filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	p = strings.TrimPrefix(p, "./")
	return filepath.Join(base, p)
}

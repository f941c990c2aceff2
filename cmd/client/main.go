package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/idsync/internal/client"
	"github.com/openmined/idsync/internal/client/config"
	"github.com/openmined/idsync/internal/utils"
	"github.com/openmined/idsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "IDSYNC"
	configFileName = "config"
)

var home, _ = os.UserHomeDir()

// logLevel is shared with the file handler so --log-level applies to both.
var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:     "idsync",
	Short:   "idsync keeps a local folder and a remote tree converged",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		applyLogLevel(cfg)

		cmd.SilenceUsage = true
		showHeader()

		c, err := client.New(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "idsync config file")
	flags.StringP("datadir", "d", config.DefaultDataDir, "idsync data directory")
	flags.StringP("server", "s", config.DefaultServerURL, "idsync server")
	flags.String("local-rule", config.DefaultLocalRule, "path comparison rule of the local side (identity, fold)")
	flags.String("remote-rule", config.DefaultRemoteRule, "path comparison rule of the remote side (identity, fold)")
	flags.Duration("interval", config.DefaultPollInterval, "poll interval")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
}

func main() {
	_ = godotenv.Load()

	logFile, err := setupLogging(config.DefaultLogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging logs to stdout with colour when it is a terminal, and to a
// log file truncated on every start.
func setupLogging(logPath string) (*utils.LogInterceptor, error) {
	if err := utils.EnsureParent(logPath); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: logLevel,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
	return interceptor, nil
}

func applyLogLevel(cfg *config.Config) {
	if level, err := cfg.Level(); err == nil {
		logLevel.Set(level)
	}
}

// loadConfig merges the config file, IDSYNC_* env and flags. Flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".idsync"))
		v.AddConfigPath(filepath.Join(home, ".config", "idsync"))
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for key, name := range map[string]string{
		"data_dir":      "datadir",
		"server_url":    "server",
		"local_rule":    "local-rule",
		"remote_rule":   "remote-rule",
		"poll_interval": "interval",
		"log_level":     "log-level",
	} {
		flag := cmd.Flag(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfgPath := v.ConfigFileUsed()
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath
	}

	return &config.Config{
		Path:           cfgPath,
		DataDir:        v.GetString("data_dir"),
		ServerURL:      v.GetString("server_url"),
		LocalRule:      v.GetString("local_rule"),
		RemoteRule:     v.GetString("remote_rule"),
		TrashContainer: v.GetString("trash_container"),
		PollInterval:   v.GetDuration("poll_interval"),
		MaxRetries:     v.GetInt("max_retries"),
		MaxRejections:  v.GetInt("max_rejections"),
		LogLevel:       v.GetString("log_level"),
	}, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(version.ShortWithApp())
}

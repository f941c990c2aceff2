package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/idsync/internal/server"
	"github.com/openmined/idsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "IDSYNC_SERVER"

var rootCmd = &cobra.Command{
	Use:     "idsync-server",
	Short:   "Development remote for idsync",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		s, err := server.New(cfg)
		if err != nil {
			return err
		}
		defer slog.Info("Bye!")
		return s.Start(cmd.Context())
	},
}

func init() {
	addFlags(rootCmd.Flags())
}

func addFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "f", "", "path to a yaml config file")
	flags.StringP("bind", "b", server.DefaultAddr, "address to bind the server")
	flags.StringP("cert", "c", "", "path to the certificate file")
	flags.StringP("key", "k", "", "path to the key file")
	flags.String("rule", server.DefaultRule, "path comparison rule of the hosted tree (identity, fold)")
	flags.String("trash", server.DefaultTrashDir, "top-level trash container of the hosted tree")
	flags.String("ratelimit", server.DefaultRateLimit, "api rate limit, e.g. 50-S; empty disables")
	flags.String("seed", "", "yaml file with the initial tree")
}

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges an optional yaml file, IDSYNC_SERVER_* env and flags.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for key, name := range map[string]string{
		"http.addr":      "bind",
		"http.cert_file": "cert",
		"http.key_file":  "key",
		"rule":           "rule",
		"trash_dir":      "trash",
		"rate_limit":     "ratelimit",
		"seed_file":      "seed",
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
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &server.Config{
		Http: &server.HttpServerConfig{
			Addr:     v.GetString("http.addr"),
			CertFile: v.GetString("http.cert_file"),
			KeyFile:  v.GetString("http.key_file"),
		},
		Rule:      v.GetString("rule"),
		TrashDir:  v.GetString("trash_dir"),
		RateLimit: v.GetString("rate_limit"),
		SeedFile:  v.GetString("seed_file"),
	}, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/synctree/synctree"
	"github.com/synctree/synctree/internal/blob"
	"github.com/synctree/synctree/internal/index"
)

var rootCmd = &cobra.Command{
	Use:   "synctree",
	Short: "Synchronized content-addressed directory tree",
	Long:  "CLI for a synchronized, optionally encrypted virtual directory tree materialized into a single content identifier.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/synctree/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (default: ~/.local/share/synctree)")
	rootCmd.PersistentFlags().String("log-level", "none", "log level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().String("remote", "", "registry ref for push/pull (e.g. ttl.sh/trees/shared:main)")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("remote", rootCmd.PersistentFlags().Lookup("remote"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SYNCTREE")
	viper.AutomaticEnv()
	viper.SetDefault("data_dir", defaultDataDir())
	viper.SetDefault("log_level", "none")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "synctree")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "synctree")
	}
	return ".synctree"
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "synctree")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "synctree")
	}
	return ".synctree"
}

func getLogger() (*zap.Logger, error) {
	level := viper.GetString("log_level")
	if level == "none" {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// env bundles the opened collaborators behind one cleanup func.
type env struct {
	tree  *synctree.Tree
	idx   *index.Index
	store *blob.Store
	log   *zap.Logger
}

func openEnv() (*env, func(), error) {
	log, err := getLogger()
	if err != nil {
		return nil, nil, err
	}

	dataDir := viper.GetString("data_dir")
	store, err := blob.New(filepath.Join(dataDir, "blobs"), blob.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}

	idx, err := index.New(filepath.Join(dataDir, "index.db"), index.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}

	tree, err := synctree.New(idx, store,
		synctree.WithAutoStart(),
		synctree.WithLoad(),
		synctree.WithLogger(log),
	)
	if err != nil {
		idx.Close()
		return nil, nil, fmt.Errorf("start engine: %w", err)
	}

	cleanup := func() {
		tree.Flush()
		if err := tree.Stop(false); err != nil {
			fmt.Fprintf(os.Stderr, "stop: %v\n", err)
		}
	}
	return &env{tree: tree, idx: idx, store: store, log: log}, cleanup, nil
}

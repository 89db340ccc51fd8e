// Command senas trains and serves the hand-sign classifier.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/config"
	"github.com/ayusman/senas/internal/logging"
	"github.com/ayusman/senas/internal/store"
)

var (
	configPath string
	logLevel   string
	modelDir   string
	storePath  string
)

var root = &cobra.Command{
	Use:           "senas",
	Short:         "hand-sign classification: corpus prep, training and serving",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults to ~/.senas/config.yaml when present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&modelDir, "model", "", "override model.dir")
	root.PersistentFlags().StringVar(&storePath, "store", "", "override store.path")

	root.AddCommand(serveCmd, liveCmd, augmentCmd, splitCmd, trainCmd, exportCmd)
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "senas:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		if p := filepath.Join(config.DataDir(), "config.yaml"); fileExists(p) {
			path = p
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if modelDir != "" {
		cfg.Model.Dir = modelDir
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	return cfg, cfg.Validate()
}

// setup loads the config and builds the logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

// openStore opens the SQLite store, creating its directory.
func openStore(cfg config.Config) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, err
	}
	return store.New(cfg.Store.Path)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// findWebDir looks for the dashboard in the working tree, then in the data
// directory.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(config.DataDir(), "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func sortedClasses(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Package main provides the entry point for the speect CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/speect-go/internal/config"
	"github.com/dgnsrekt/speect-go/internal/engine"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	debug             bool
	pluginPath        string

	// cfg is the effective configuration, loaded before any command runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "speect",
		Short: "Inspect and exercise the speect object runtime",
		Long: paragraph(
			fmt.Sprintf("\nInspect the %s: registered classes, objects and plugins.", keyword("speect object runtime")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}
)

func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	c, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if debug {
		c.Log.Level = "debug"
	}
	if pluginPath != "" {
		p, err := filepath.Abs(pluginPath)
		if err != nil {
			return fmt.Errorf("unable to get absolute path: %w", err)
		}
		c.Plugins.Path = p
	}

	cfg = c
	log.SetLevel(cfg.LogLevel())
	return nil
}

// startEngine starts an engine that autoloads the configured plugins plus
// extra. The caller must Quit it.
func startEngine(ctx context.Context, extra ...string) (*engine.Engine, error) {
	c := *cfg
	c.Plugins.Autoload = append(append([]string{}, cfg.Plugins.Autoload...), extra...)
	e, err := engine.New(ctx, &c, engine.WithLogger(log.Default()))
	if err != nil {
		return nil, fmt.Errorf("unable to start engine: %w", err)
	}
	return e, nil
}

// quitEngine stops e, joining its error with err.
func quitEngine(e *engine.Engine, err error) error {
	if qerr := e.Quit(); qerr != nil {
		return errors.Join(err, qerr)
	}
	return err
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&pluginPath, "plugin-path", "", "directory plugin names are resolved in")

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(classesCmd, newCmd, browseCmd, pluginCmd, watchCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	dirs, err := config.Dirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], config.AppName+".yml")
}

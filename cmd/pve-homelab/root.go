package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fgeck/pve-homelab/internal/config"
	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ErrNotRoot is returned by commands that change host state when run unprivileged.
var ErrNotRoot = errors.New("this command must be run as root")

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile   string
	defaultsFile string
	verbose      bool
	quiet        bool
	jsonOutput   bool
)

var rootCmd = &cobra.Command{
	Use:   "pve-homelab",
	Short: "Proxmox VE and ZFS homelab configuration tool",
	Long: `pve-homelab configures a Proxmox VE / ZFS homelab:
  - ZFS dataset property tuning and ARC sizing
  - Proxmox host post-install tuning
  - Pi-hole + Unbound LXC containers across cluster nodes
  - Wake-on-LAN for sleeping cluster nodes
  - Telegram notifications

Run it on a Proxmox node. Remote cluster members are reached over SSH.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional, defaults apply without it)")
	rootCmd.PersistentFlags().StringVar(&defaultsFile, "defaults", "", "legacy KEY=value defaults file (config/*.conf)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(zfsCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(piholeCmd)
	rootCmd.AddCommand(hostCmd)
}

func setupLogging() {
	// Logs go to stderr so tables on stdout stay clean.
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads the optional defaults and config files and validates the result.
func loadConfig() (*models.Config, error) {
	parser := config.NewParser()

	if defaultsFile != "" {
		if err := parser.LoadDefaults(defaultsFile); err != nil {
			log.Error().Err(err).Str("file", defaultsFile).Msg("failed to load defaults")
			return nil, err
		}
	}

	var (
		cfg *models.Config
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.LoadDefaultsOnly()
	}
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		log.Error().Msg("run this command as root")
		return ErrNotRoot
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

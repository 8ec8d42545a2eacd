package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/fgeck/pve-homelab/internal/services/host"
	"github.com/fgeck/pve-homelab/internal/services/prompt"
	"github.com/fgeck/pve-homelab/internal/services/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var hostYes bool

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Proxmox host maintenance",
}

var hostTuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Apply Proxmox post-install tuning",
	Long: `Apply optional post-install items to this node:
  repositories  disable enterprise repositories, enable pve-no-subscription
  sysctl        tune kernel parameters
  udev          I/O scheduler per device class
  zfs-health    cron job logging unhealthy pools
  upgrade       apt-get update and dist-upgrade

pveproxy is restarted when any item changed a file.`,
	RunE: tuneHost,
}

func init() {
	hostTuneCmd.Flags().BoolVarP(&hostYes, "yes", "y", false, "apply every item without asking")

	hostCmd.AddCommand(hostTuneCmd)
}

func tuneHost(cmd *cobra.Command, args []string) error {
	if err := requireRoot(); err != nil {
		return err
	}
	if err := executor.RequireTools("sysctl", "udevadm", "apt-get", "systemctl"); err != nil {
		log.Error().Err(err).Msg("required tools not available")
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := prompt.NewTerminal()
	confirm := func(item host.Item) (bool, error) {
		if hostYes {
			return true, nil
		}
		ok, err := p.Confirm(item.Description, false)
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return ok, err
	}

	results := host.New(log.Logger, cfg.Host).Run(ctx, confirm)
	if err := report.WriteHostItems(os.Stdout, results); err != nil {
		log.Warn().Err(err).Msg("failed to print results")
	}

	failed := 0
	for _, r := range results {
		if r.Status == models.ItemFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d item(s) failed", failed)
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/fgeck/pve-homelab/internal/services/prompt"
	"github.com/fgeck/pve-homelab/internal/services/proxmox"
	"github.com/fgeck/pve-homelab/internal/services/runner"
	"github.com/fgeck/pve-homelab/internal/services/selector"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	piholeNodes string
	piholeYes   bool
)

var piholeCmd = &cobra.Command{
	Use:   "pihole",
	Short: "Manage Pi-hole + Unbound containers",
}

var piholeInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install Pi-hole + Unbound containers on cluster nodes",
	Long: `Create one Debian LXC container per selected node and install Unbound,
Pi-hole and a ufw firewall in it. Container IDs and addresses are derived
from pihole.base_id and pihole.base_ip in node order.

Sleeping nodes with a configured MAC address are woken first. The exit
status is 1 when any node failed.`,
	RunE: installPihole,
}

func init() {
	piholeInstallCmd.Flags().StringVarP(&piholeNodes, "nodes", "n", "",
		`target nodes: "all", "current" or a comma list of names/indexes (prompts when empty)`)
	piholeInstallCmd.Flags().BoolVarP(&piholeYes, "yes", "y", false, "do not ask for confirmation")

	piholeCmd.AddCommand(piholeInstallCmd)
}

func installPihole(cmd *cobra.Command, args []string) error {
	if err := requireRoot(); err != nil {
		return err
	}
	if err := executor.RequireTools(proxmox.RequiredTools...); err != nil {
		log.Error().Err(err).Msg("Proxmox tools not available")
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	nodes, err := proxmox.New(log.Logger).Nodes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list cluster nodes")
		return err
	}

	interactive := prompt.IsInteractive()
	p := prompt.NewTerminal()

	choice := piholeNodes
	if choice == "" && interactive {
		p.Printf("Cluster nodes:\n%s", selector.Describe(nodes))
		choice, err = p.Ask(`Install on which nodes ("all", "current" or e.g. 1,3)`, selector.ChoiceCurrent)
		if err != nil {
			return err
		}
	}

	selected, err := selector.Select(nodes, choice)
	if err != nil {
		log.Error().Err(err).Str("choice", choice).Msg("invalid node selection")
		return err
	}

	names := make([]string, 0, len(selected))
	for _, n := range selected {
		names = append(names, n.Name)
	}
	log.Info().Strs("nodes", names).Int("base_id", cfg.Pihole.BaseID).Str("base_ip", cfg.Pihole.BaseIP).Msg("nodes selected")

	if !piholeYes && interactive {
		ok, err := p.Confirm(fmt.Sprintf("Install Pi-hole on %d node(s)", len(selected)), true)
		if err != nil || !ok {
			log.Info().Msg("installation cancelled")
			return nil
		}
	}

	var progress io.Writer
	if interactive && !jsonOutput {
		progress = os.Stderr
	}

	summary, err := runner.New(log.Logger, *cfg, progress).Run(ctx, selected)
	if err != nil {
		log.Error().Err(err).Msg("install run failed")
		return err
	}

	if _, _, failed := summary.Counts(); failed > 0 {
		return fmt.Errorf("%d node(s) failed", failed)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/fgeck/pve-homelab/internal/services/proxmox"
	"github.com/fgeck/pve-homelab/internal/services/selector"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List cluster members",
	RunE:  listNodes,
}

func listNodes(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	nodes, err := proxmox.New(log.Logger).Nodes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list cluster nodes")
		return err
	}

	fmt.Print(selector.Describe(nodes))
	return nil
}

package main

import (
	"fmt"

	"github.com/fgeck/pve-homelab/internal/services/hardware"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Load and validate the configuration without changing anything.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("ZFS:")
	fmt.Printf("  Pool: %s\n", orDefault(cfg.ZFS.Pool, "(first pool)"))
	fmt.Printf("  Dataset: %s\n", cfg.ZFS.Dataset)
	if cfg.ZFS.ARCMaxBytes > 0 {
		fmt.Printf("  ARC max: %s\n", hardware.FormatBytes(cfg.ZFS.ARCMaxBytes))
	}
	fmt.Println()
	fmt.Println("Pi-hole containers:")
	fmt.Printf("  First ID: %d\n", cfg.Pihole.BaseID)
	fmt.Printf("  First IP: %s\n", cfg.Pihole.BaseIP)
	fmt.Printf("  Gateway: %s\n", cfg.Pihole.Gateway)
	fmt.Printf("  Bridge: %s\n", cfg.Pihole.Bridge)
	fmt.Printf("  Storage: %s\n", orDefault(cfg.Pihole.Storage, "(most free space)"))
	fmt.Printf("  Template: %s\n", orDefault(cfg.Pihole.Template, "(newest Debian 12)"))
	fmt.Printf("  Resources: %d MiB, %d core(s), %d GiB disk\n", cfg.Pihole.MemoryMB, cfg.Pihole.Cores, cfg.Pihole.DiskGB)
	fmt.Printf("  Max parallel: %d (stagger %s)\n", cfg.Pihole.MaxParallel, cfg.Pihole.Stagger)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Node overrides: %d\n", len(cfg.Nodes))
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics != nil)
	fmt.Printf("  Report: %v\n", cfg.Report != nil)

	for _, n := range cfg.Nodes {
		fmt.Printf("  - %s", n.Name)
		if n.Address != "" {
			fmt.Printf(" address=%s", n.Address)
		}
		if n.MACAddress != "" {
			fmt.Printf(" wol=%s", n.MACAddress)
		}
		fmt.Println()
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

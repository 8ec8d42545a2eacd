package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/fgeck/pve-homelab/internal/services/hardware"
	"github.com/fgeck/pve-homelab/internal/services/prompt"
	"github.com/fgeck/pve-homelab/internal/services/report"
	"github.com/fgeck/pve-homelab/internal/services/zfs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	zfsDataset string
	zfsFlow    string
	arcApply   bool
)

var zfsCmd = &cobra.Command{
	Use:   "zfs",
	Short: "Inspect and tune ZFS",
}

var zfsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List pools and the tunable properties of a dataset",
	RunE:  zfsStatus,
}

var zfsTuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Interactively tune dataset properties",
	Long: `Present property menus for a dataset. Each valid choice issues exactly
one "zfs set". Empty input or 0 keeps the current value.

Flows:
  core      recordsize, compression, volblocksize, atime
  advanced  sync, logbias, xattr, dnodesize, primarycache
  all       every menu`,
	RunE: zfsTune,
}

var zfsArcCmd = &cobra.Command{
	Use:   "arc",
	Short: "Recommend and write ZFS ARC limits",
	RunE:  zfsArc,
}

func init() {
	zfsCmd.PersistentFlags().StringVarP(&zfsDataset, "dataset", "d", "", "dataset (defaults to zfs.dataset)")
	zfsTuneCmd.Flags().StringVar(&zfsFlow, "flow", "", "run one flow (core, advanced, all) instead of the main menu")
	zfsArcCmd.Flags().BoolVar(&arcApply, "apply", false, "write the limits without asking")

	zfsCmd.AddCommand(zfsStatusCmd)
	zfsCmd.AddCommand(zfsTuneCmd)
	zfsCmd.AddCommand(zfsArcCmd)
}

// zfsSetup checks prerequisites and returns the config, service and
// target dataset.
func zfsSetup(ctx context.Context) (*models.Config, *zfs.Impl, []models.Pool, string, error) {
	if err := executor.RequireTools("zfs", "zpool"); err != nil {
		log.Error().Err(err).Msg("ZFS tools not available")
		return nil, nil, nil, "", err
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, "", err
	}

	svc := zfs.New(log.Logger)
	pools, err := svc.ListPools(ctx)
	if err != nil {
		if errors.Is(err, zfs.ErrNoPool) {
			log.Error().Msg("no ZFS pool found")
		}
		return nil, nil, nil, "", err
	}

	dataset := zfsDataset
	if dataset == "" {
		dataset = cfg.ZFS.Dataset
	}
	return cfg, svc, pools, dataset, nil
}

func zfsStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, svc, pools, dataset, err := zfsSetup(ctx)
	if err != nil {
		return err
	}

	if err := report.WritePools(os.Stdout, pools); err != nil {
		return err
	}
	fmt.Println()

	props, err := svc.GetProperties(ctx, dataset, zfs.TunableProperties...)
	if err != nil {
		log.Error().Err(err).Str("dataset", dataset).Msg("failed to read properties")
		return err
	}
	return report.WriteProperties(os.Stdout, dataset, zfs.TunableProperties, props)
}

func zfsTune(cmd *cobra.Command, args []string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, svc, _, dataset, err := zfsSetup(ctx)
	if err != nil {
		return err
	}

	tuner := zfs.NewTuner(log.Logger, svc, prompt.NewTerminal())

	if zfsFlow == "" {
		return tuner.Run(ctx, dataset)
	}

	flow, ok := zfs.FlowByName(zfsFlow)
	if !ok {
		return fmt.Errorf("unknown flow %q", zfsFlow)
	}
	results, err := tuner.RunFlow(ctx, dataset, flow)
	if werr := report.WritePropertyResults(os.Stdout, results); werr != nil {
		log.Warn().Err(werr).Msg("failed to print results")
	}
	return err
}

func zfsArc(cmd *cobra.Command, args []string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg, _, pools, _, err := zfsSetup(ctx)
	if err != nil {
		return err
	}

	profile, err := hardware.New(log.Logger).Detect(ctx)
	if err != nil {
		log.Error().Err(err).Msg("hardware detection failed")
		return err
	}

	var poolBytes uint64
	for _, p := range pools {
		if cfg.ZFS.Pool == "" || p.Name == cfg.ZFS.Pool {
			poolBytes += p.Size
		}
	}

	settings := hardware.RecommendARC(*profile, poolBytes)
	if cfg.ZFS.ARCMaxBytes > 0 {
		settings.MaxBytes = cfg.ZFS.ARCMaxBytes
		settings.MinBytes = min(settings.MinBytes, settings.MaxBytes/2)
	}
	if cfg.ZFS.ARCMinBytes > 0 {
		settings.MinBytes = cfg.ZFS.ARCMinBytes
	}

	fmt.Printf("CPU:       %s (%d cores)\n", profile.CPUModel, profile.Cores)
	fmt.Printf("Memory:    %s\n", hardware.FormatBytes(profile.TotalMemory))
	fmt.Printf("Pool size: %s\n", hardware.FormatBytes(poolBytes))
	fmt.Printf("Low power: %v, root on ZFS: %v\n", profile.LowPower, profile.RootOnZFS)
	fmt.Printf("ARC max:   %s\n", hardware.FormatBytes(settings.MaxBytes))
	fmt.Printf("ARC min:   %s\n", hardware.FormatBytes(settings.MinBytes))

	if !arcApply {
		ok, err := prompt.NewTerminal().Confirm("Write these limits", false)
		if err != nil || !ok {
			log.Info().Msg("ARC limits not changed")
			return nil
		}
	}

	if err := hardware.NewARCService(log.Logger).Apply(ctx, settings, *profile); err != nil {
		log.Error().Err(err).Msg("failed to apply ARC limits")
		return err
	}
	log.Info().Msg("ARC limits applied")
	return nil
}

// Package runner orchestrates Pi-hole installs across the selected nodes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/installer"
	"github.com/fgeck/pve-homelab/internal/services/network"
	"github.com/fgeck/pve-homelab/internal/services/proxmox"
	"github.com/fgeck/pve-homelab/internal/services/report"
	"github.com/fgeck/pve-homelab/internal/services/ssh"
	"github.com/fgeck/pve-homelab/internal/services/telegram"
	"github.com/fgeck/pve-homelab/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for the install runner.
type Service interface {
	Run(ctx context.Context, nodes []models.Node) (*models.Summary, error)
}

// InstallerFactory returns an installer bound to node and a function that
// releases its connection.
type InstallerFactory func(ctx context.Context, logger zerolog.Logger, node models.Node) (installer.Service, func(), error)

// Impl implements the runner Service interface.
type Impl struct {
	cfg          models.Config
	sshSvc       ssh.Service
	wolSvc       wol.Service
	telegramSvc  telegram.Service
	newInstaller InstallerFactory
	out          io.Writer // summary table
	progress     io.Writer // nil disables the progress bar
	logger       zerolog.Logger
}

// New creates a new runner with the production services.
func New(logger zerolog.Logger, cfg models.Config, progress io.Writer) *Impl {
	s := &Impl{
		cfg:         cfg,
		sshSvc:      ssh.New(logger),
		wolSvc:      wol.New(logger),
		telegramSvc: telegram.New(logger),
		out:         os.Stdout,
		progress:    progress,
		logger:      logger,
	}
	s.newInstaller = s.connectInstaller(network.NewProber(logger))
	return s
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.Config,
	sshSvc ssh.Service,
	wolSvc wol.Service,
	telegramSvc telegram.Service,
	newInstaller InstallerFactory,
	out io.Writer,
) *Impl {
	return &Impl{
		cfg:          cfg,
		sshSvc:       sshSvc,
		wolSvc:       wolSvc,
		telegramSvc:  telegramSvc,
		newInstaller: newInstaller,
		out:          out,
		logger:       logger,
	}
}

// connectInstaller runs the local node's tools directly and remote nodes' over SSH.
func (s *Impl) connectInstaller(prober network.Prober) InstallerFactory {
	return func(ctx context.Context, logger zerolog.Logger, node models.Node) (installer.Service, func(), error) {
		if node.Local {
			return installer.New(logger, s.cfg.Pihole, proxmox.New(logger), prober), func() {}, nil
		}

		conn, err := s.sshSvc.Connect(ctx, s.sshConfig(node))
		if err != nil {
			return nil, nil, err
		}
		pve := proxmox.NewWithExecutor(logger, conn)
		return installer.New(logger, s.cfg.Pihole, pve, prober), func() { _ = conn.Close() }, nil
	}
}

// ApplyOverrides copies configured addresses and MACs onto cluster nodes.
func ApplyOverrides(nodes []models.Node, overrides []models.NodeConfig) []models.Node {
	out := slices.Clone(nodes)
	for i := range out {
		for _, o := range overrides {
			if o.Name != out[i].Name {
				continue
			}
			if o.Address != "" {
				out[i].Address = o.Address
			}
			if o.MACAddress != "" {
				out[i].MACAddress = o.MACAddress
			}
		}
	}
	return out
}

// Run probes every node, installs on the reachable ones with bounded
// parallelism and publishes the summary. Every node gets exactly one result.
//
//nolint:gocognit // fan-out with stagger and cancellation
func (s *Impl) Run(ctx context.Context, nodes []models.Node) (*models.Summary, error) {
	if len(nodes) == 0 {
		return nil, errors.New("no nodes selected")
	}

	nodes = ApplyOverrides(nodes, s.cfg.Nodes)
	summary := &models.Summary{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
	}
	logger := s.logger.With().Str("run_id", summary.RunID).Logger()

	logger.Info().
		Int("nodes", len(nodes)).
		Int("max_parallel", s.cfg.Pihole.MaxParallel).
		Msg("starting install run")

	results := make([]models.InstallResult, len(nodes))
	containers := make([]models.Container, len(nodes))
	ready := make([]bool, len(nodes))

	for i := range nodes {
		ct, err := installer.PlanContainer(s.cfg.Pihole, nodes[i], i)
		if err != nil {
			results[i] = failedResult(nodes[i], ct, err)
			continue
		}
		containers[i] = ct

		if err := s.ensureReachable(ctx, logger, &nodes[i]); err != nil {
			logger.Error().Err(err).Str("node", nodes[i].Name).Msg("node unreachable, skipping")
			results[i] = failedResult(nodes[i], ct, err)
			continue
		}
		ready[i] = true
	}

	var bar *progressbar.ProgressBar
	if s.progress != nil {
		bar = progressbar.NewOptions(countTrue(ready),
			progressbar.OptionSetWriter(s.progress),
			progressbar.OptionSetDescription("installing"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var g errgroup.Group
	g.SetLimit(max(1, s.cfg.Pihole.MaxParallel))

	launched := 0
	for i := range nodes {
		if !ready[i] {
			continue
		}

		if launched > 0 && s.cfg.Pihole.Stagger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.Pihole.Stagger):
			}
		}
		if err := ctx.Err(); err != nil {
			results[i] = failedResult(nodes[i], containers[i], err)
			continue
		}
		launched++

		g.Go(func() error {
			results[i] = s.installOne(ctx, logger, nodes[i], containers[i])
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Results = results
	summary.Duration = time.Since(summary.StartTime)

	success, partial, failed := summary.Counts()
	logger.Info().
		Int("success", success).
		Int("partial", partial).
		Int("failed", failed).
		Dur("duration", summary.Duration).
		Msg("install run finished")

	s.publish(ctx, logger, *summary)
	return summary, nil
}

func (s *Impl) installOne(ctx context.Context, logger zerolog.Logger, node models.Node, ct models.Container) models.InstallResult {
	inst, release, err := s.newInstaller(ctx, logger, node)
	if err != nil {
		return failedResult(node, ct, err)
	}
	defer release()

	return *inst.Install(ctx, node, ct)
}

// ensureReachable probes a remote node over SSH. A node with a MAC address
// is woken and probed exactly once more.
func (s *Impl) ensureReachable(ctx context.Context, logger zerolog.Logger, node *models.Node) error {
	if node.Local {
		node.Reachable = true
		return nil
	}

	err := s.probe(ctx, *node)
	if err == nil {
		node.Reachable = true
		return nil
	}
	if node.MACAddress == "" {
		return err
	}

	logger.Info().Err(err).Str("node", node.Name).Msg("waking node")

	wcfg := wol.ConfigForNode(*node, s.override(node.Name), s.cfg.WOL)
	result, werr := s.wolSvc.Wake(ctx, wcfg)
	if werr == nil && result.Error != nil {
		werr = result.Error
	}
	if werr != nil {
		return fmt.Errorf("%w: wake failed: %v", ssh.ErrNodeUnreachable, werr)
	}

	if err := s.probe(ctx, *node); err != nil {
		return fmt.Errorf("still unreachable after wake: %w", err)
	}
	node.Reachable = true
	return nil
}

func (s *Impl) probe(ctx context.Context, node models.Node) error {
	result, err := s.sshSvc.TestConnection(ctx, s.sshConfig(node))
	if err == nil {
		err = result.Error
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ssh.ErrNodeUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %v", ssh.ErrNodeUnreachable, err)
}

func (s *Impl) sshConfig(node models.Node) models.SSHConfig {
	cfg := s.cfg.SSH
	cfg.Host = node.Address
	if cfg.Host == "" {
		cfg.Host = node.Name
	}
	return cfg
}

func (s *Impl) override(name string) models.NodeConfig {
	for _, o := range s.cfg.Nodes {
		if o.Name == name {
			return o
		}
	}
	return models.NodeConfig{}
}

// publish prints the summary and writes the optional outputs. Output
// failures are logged and never change the run result.
func (s *Impl) publish(ctx context.Context, logger zerolog.Logger, summary models.Summary) {
	if err := report.WriteSummary(s.out, summary); err != nil {
		logger.Warn().Err(err).Msg("failed to print summary")
	}

	if s.cfg.Report != nil {
		if err := report.WriteYAML(s.cfg.Report.Path, summary); err != nil {
			logger.Warn().Err(err).Msg("failed to write report")
		} else {
			logger.Info().Str("path", s.cfg.Report.Path).Msg("report written")
		}
	}

	if s.cfg.Metrics != nil {
		if err := report.WriteMetrics(s.cfg.Metrics.TextfilePath, summary); err != nil {
			logger.Warn().Err(err).Msg("failed to write metrics")
		}
	}

	if s.cfg.Telegram != nil {
		host, _ := os.Hostname()
		result, err := s.telegramSvc.SendNotification(ctx, *s.cfg.Telegram, telegram.MessageFromSummary(summary, host))
		if err == nil {
			err = result.Error
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to send Telegram notification")
		}
	}
}

func failedResult(node models.Node, ct models.Container, err error) models.InstallResult {
	return models.InstallResult{
		Node:      node,
		Container: ct,
		Status:    models.InstallFailed,
		Stage:     models.StagePending,
		Error:     err,
	}
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}

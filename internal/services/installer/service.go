// Package installer provisions one Pi-hole + Unbound container on one node.
package installer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/firewall"
	"github.com/fgeck/pve-homelab/internal/services/network"
	"github.com/fgeck/pve-homelab/internal/services/pihole"
	"github.com/fgeck/pve-homelab/internal/services/proxmox"
	"github.com/rs/zerolog"
)

// ErrIDCollision is returned when the container id is already taken in the cluster.
var ErrIDCollision = errors.New("container id already in use")

// DefaultTemplatePrefix selects the OS template when none is configured.
const DefaultTemplatePrefix = "debian-12-standard"

// Service defines the interface for a single-node install.
type Service interface {
	Install(ctx context.Context, node models.Node, ct models.Container) *models.InstallResult
}

// Impl implements the Service interface against one node's Proxmox tools.
type Impl struct {
	pve         *proxmox.Impl
	prober      network.Prober // optional host-side probe
	cfg         models.PiholeConfig
	logger      zerolog.Logger
	settleDelay time.Duration
}

// New creates an installer for the node reached through pve.
func New(logger zerolog.Logger, cfg models.PiholeConfig, pve *proxmox.Impl, prober network.Prober) *Impl {
	return &Impl{
		pve:         pve,
		prober:      prober,
		cfg:         cfg,
		logger:      logger,
		settleDelay: 5 * time.Second,
	}
}

// PlanContainer derives the id, address and credentials of the index-th container.
func PlanContainer(cfg models.PiholeConfig, node models.Node, index int) (models.Container, error) {
	ip, err := network.DeriveIP(cfg.BaseIP, index)
	if err != nil {
		return models.Container{}, err
	}

	ct := models.Container{
		ID:           network.DeriveContainerID(cfg.BaseID, index),
		IP:           ip,
		Gateway:      cfg.Gateway,
		Hostname:     fmt.Sprintf("%s-%d", cfg.HostnamePrefix, index+1),
		Node:         node.Name,
		RootPassword: rand.Text(),
		WebPassword:  cfg.WebPassword,
	}
	if ct.WebPassword == "" {
		ct.WebPassword = rand.Text()
	}
	return ct, nil
}

// LANCIDR returns the network allowed through the container firewall.
func LANCIDR(cfg models.PiholeConfig) (string, error) {
	if cfg.LANCIDR != "" {
		return cfg.LANCIDR, nil
	}
	prefix, err := netip.ParsePrefix(cfg.BaseIP)
	if err != nil {
		return "", fmt.Errorf("invalid base address %q: %w", cfg.BaseIP, err)
	}
	return prefix.Masked().String(), nil
}

// install state shared by the steps of one run
type run struct {
	node     models.Node
	ct       models.Container
	storage  string
	template string
	logger   zerolog.Logger
}

type step struct {
	name    string
	reaches models.InstallStage
	// failures at or before the package step leave no usable container
	fatal bool
	fn    func(ctx context.Context, r *run) error
}

var errSkipped = errors.New("skipped")

func (s *Impl) steps() []step {
	return []step{
		{name: "id_check", fatal: true, fn: s.checkID},
		{name: "storage", fatal: true, fn: s.pickStorage},
		{name: "template", fatal: true, fn: s.pickTemplate},
		{name: "create", reaches: models.StageCreated, fatal: true, fn: s.create},
		{name: "packages", reaches: models.StagePackagesInstalled, fatal: true, fn: s.packages},
		{name: "network", reaches: models.StageNetworkVerified, fn: s.verifyNetwork},
		{name: "unbound", reaches: models.StageResolverInstalled, fn: s.resolver},
		{name: "pihole", reaches: models.StageAdBlockerInstalled, fn: s.adBlocker},
		{name: "firewall", reaches: models.StageFirewallConfigured, fn: s.firewall},
		{name: "health_check", fn: s.healthCheck},
		{name: "self_test", reaches: models.StageDone, fn: s.selfTest},
	}
}

// Install runs every step in order and stops at the first failure. Steps
// that did not run are recorded as skipped.
func (s *Impl) Install(ctx context.Context, node models.Node, ct models.Container) *models.InstallResult {
	start := time.Now()
	result := &models.InstallResult{
		Node:      node,
		Container: ct,
		Status:    models.InstallSuccess,
		Stage:     models.StagePending,
	}

	if s.cfg.InstallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InstallTimeout)
		defer cancel()
	}

	r := &run{
		node:   node,
		ct:     ct,
		logger: s.logger.With().Str("node", node.Name).Int("ctid", ct.ID).Logger(),
	}
	r.logger.Info().Str("ip", ct.IP).Msg("starting install")

	steps := s.steps()
	for i, st := range steps {
		stepStart := time.Now()
		err := st.fn(ctx, r)
		rec := models.StepResult{Name: st.name, Duration: time.Since(stepStart)}

		switch {
		case errors.Is(err, errSkipped):
			rec.Status = models.StepSkipped
		case err != nil:
			rec.Status = models.StepFailed
			rec.Message = err.Error()
			result.Steps = append(result.Steps, rec)
			result.Error = fmt.Errorf("%s: %w", st.name, err)
			result.Status = models.InstallPartial
			if st.fatal {
				result.Status = models.InstallFailed
			}
			for _, rest := range steps[i+1:] {
				result.Steps = append(result.Steps, models.StepResult{Name: rest.name, Status: models.StepSkipped})
			}
			r.logger.Error().Err(err).Str("step", st.name).Str("status", string(result.Status)).Msg("install stopped")
			result.Duration = time.Since(start)
			return result
		default:
			rec.Status = models.StepSuccess
			if st.reaches != "" {
				result.Stage = st.reaches
			}
		}

		result.Steps = append(result.Steps, rec)
		r.logger.Debug().Str("step", st.name).Str("status", string(rec.Status)).Dur("duration", rec.Duration).Msg("step finished")
	}

	result.Duration = time.Since(start)
	r.logger.Info().Dur("duration", result.Duration).Msg("install complete")
	return result
}

func (s *Impl) checkID(ctx context.Context, r *run) error {
	ids, err := s.pve.ContainerIDs(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, r.ct.ID) {
		return fmt.Errorf("%w: %d exists on %s", ErrIDCollision, r.ct.ID, r.node.Name)
	}

	cluster, err := s.pve.ClusterVMIDs(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("cluster resources unavailable, checked local ids only")
		return nil
	}
	if owner, ok := cluster[r.ct.ID]; ok {
		return fmt.Errorf("%w: %d exists on %s", ErrIDCollision, r.ct.ID, owner)
	}
	return nil
}

func (s *Impl) pickStorage(ctx context.Context, r *run) error {
	storages, err := s.pve.Storages(ctx, "rootdir")
	if err != nil {
		return err
	}

	if s.cfg.Storage != "" {
		for _, st := range storages {
			if st.Name == s.cfg.Storage && st.Active {
				r.storage = st.Name
				return nil
			}
		}
		return fmt.Errorf("storage %s not active on %s", s.cfg.Storage, r.node.Name)
	}

	var best *models.Storage
	for i := range storages {
		st := &storages[i]
		if st.Active && (best == nil || st.Available > best.Available) {
			best = st
		}
	}
	if best == nil {
		return fmt.Errorf("no active container storage on %s", r.node.Name)
	}
	r.storage = best.Name
	r.logger.Debug().Str("storage", best.Name).Msg("storage selected")
	return nil
}

func (s *Impl) pickTemplate(ctx context.Context, r *run) error {
	local, err := s.pve.Templates(ctx, s.cfg.TemplateStorage)
	if err != nil {
		return err
	}

	want := s.cfg.Template
	if strings.Contains(want, ":vztmpl/") {
		r.template = want
		return nil
	}
	if want == "" {
		if volid, ok := proxmox.NewestTemplate(local, DefaultTemplatePrefix); ok {
			r.template = volid
			return nil
		}
		available, err := s.pve.AvailableTemplates(ctx)
		if err != nil {
			return err
		}
		name, ok := proxmox.NewestTemplate(available, DefaultTemplatePrefix)
		if !ok {
			return fmt.Errorf("no %s template available", DefaultTemplatePrefix)
		}
		want = name
	}

	volid := s.cfg.TemplateStorage + ":vztmpl/" + want
	if slices.Contains(local, volid) {
		r.template = volid
		return nil
	}
	if err := s.pve.DownloadTemplate(ctx, s.cfg.TemplateStorage, want); err != nil {
		return err
	}
	r.template = volid
	return nil
}

func (s *Impl) create(ctx context.Context, r *run) error {
	err := s.pve.CreateContainer(ctx, proxmox.CreateOptions{
		ID:           r.ct.ID,
		Template:     r.template,
		Hostname:     r.ct.Hostname,
		Storage:      r.storage,
		DiskGB:       s.cfg.DiskGB,
		MemoryMB:     s.cfg.MemoryMB,
		SwapMB:       s.cfg.SwapMB,
		Cores:        s.cfg.Cores,
		Net0:         network.Net0(s.cfg.Bridge, r.ct.IP, r.ct.Gateway),
		Unprivileged: s.cfg.Unprivileged,
	})
	if err != nil {
		return err
	}
	if err := s.pve.StartContainer(ctx, r.ct.ID); err != nil {
		return err
	}
	if r.ct.RootPassword == "" {
		return nil
	}
	return s.pve.SetRootPassword(ctx, r.ct.ID, r.ct.RootPassword)
}

func (s *Impl) packages(ctx context.Context, r *run) error {
	return pihole.New(r.logger, s.pve.Container(r.ct.ID)).InstallBasePackages(ctx)
}

// verifyNetwork probes from inside the container and from this host. On
// failure net0 is rewritten once and the probe repeated.
func (s *Impl) verifyNetwork(ctx context.Context, r *run) error {
	err := s.probe(ctx, r)
	if err == nil {
		return nil
	}

	r.logger.Warn().Err(err).Msg("network probe failed, recreating interface")
	if err := s.pve.SetNetwork(ctx, r.ct.ID, network.Net0(s.cfg.Bridge, r.ct.IP, r.ct.Gateway)); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settleDelay):
	}

	if err := s.probe(ctx, r); err != nil {
		return fmt.Errorf("network unreachable after interface recreation: %w", err)
	}
	return nil
}

func (s *Impl) probe(ctx context.Context, r *run) error {
	script := fmt.Sprintf("ping -c 3 -W 2 %s", s.cfg.ProbeTarget)
	if output, err := s.pve.Exec(ctx, r.ct.ID, script); err != nil {
		return fmt.Errorf("container cannot reach %s: %w, output: %s", s.cfg.ProbeTarget, err, output)
	}

	if s.prober == nil {
		return nil
	}
	ok, err := s.prober.Ping(ctx, r.ct.IP)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no ICMP reply from %s", network.StripPrefix(r.ct.IP))
	}
	return nil
}

func (s *Impl) resolver(ctx context.Context, r *run) error {
	return pihole.New(r.logger, s.pve.Container(r.ct.ID)).InstallResolver(ctx)
}

func (s *Impl) adBlocker(ctx context.Context, r *run) error {
	vars := pihole.SetupVars{IPv4Address: r.ct.IP, QueryLog: true}
	return pihole.New(r.logger, s.pve.Container(r.ct.ID)).InstallAdBlocker(ctx, vars, r.ct.WebPassword)
}

func (s *Impl) firewall(ctx context.Context, r *run) error {
	lan, err := LANCIDR(s.cfg)
	if err != nil {
		return err
	}
	return firewall.NewUFW(r.logger, s.pve.Container(r.ct.ID)).Configure(ctx, firewall.ResolverRules(lan))
}

func (s *Impl) healthCheck(ctx context.Context, r *run) error {
	if !s.cfg.HealthCheck {
		return errSkipped
	}
	return pihole.New(r.logger, s.pve.Container(r.ct.ID)).ScheduleHealthCheck(ctx)
}

func (s *Impl) selfTest(ctx context.Context, r *run) error {
	ct := s.pve.Container(r.ct.ID)
	if err := pihole.New(r.logger, ct).SelfTest(ctx); err != nil {
		return err
	}
	return firewall.NewUFW(r.logger, ct).Verify(ctx)
}

// Package host applies Proxmox post-install tuning to the local node.
package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Tuning item names.
const (
	ItemRepositories = "repositories"
	ItemSysctl       = "sysctl"
	ItemUdev         = "udev"
	ItemHealthCron   = "zfs-health"
	ItemUpgrade      = "upgrade"
	ItemRestartProxy = "pveproxy"
)

// Files managed by the tuning items.
const (
	OSReleasePath     = "/etc/os-release"
	SourcesDir        = "/etc/apt/sources.list.d"
	NoSubscriptionSrc = "/etc/apt/sources.list.d/pve-no-subscription.list"
	SysctlPath        = "/etc/sysctl.conf"
	UdevRulePath      = "/etc/udev/rules.d/60-pve-homelab-iosched.rules"
	HealthCronPath    = "/etc/cron.d/zfs-health"
)

const enterpriseHost = "enterprise.proxmox.com"

// DefaultSysctl holds the kernel settings applied unless overridden.
var DefaultSysctl = map[string]string{
	"vm.swappiness":                 "10",
	"vm.vfs_cache_pressure":         "50",
	"vm.dirty_ratio":                "10",
	"vm.dirty_background_ratio":     "5",
	"fs.inotify.max_user_watches":   "524288",
	"fs.inotify.max_user_instances": "512",
}

// UdevRule selects an I/O scheduler per device class.
const UdevRule = `# Managed by pve-homelab
ACTION=="add|change", KERNEL=="nvme[0-9]*n[0-9]*", ATTR{queue/scheduler}="none"
ACTION=="add|change", KERNEL=="sd[a-z]*", ATTR{queue/rotational}=="0", ATTR{queue/scheduler}="mq-deadline"
ACTION=="add|change", KERNEL=="sd[a-z]*", ATTR{queue/rotational}=="1", ATTR{queue/scheduler}="bfq"
`

// Item is one optional tuning step.
type Item struct {
	Name        string
	Description string
}

// Items lists the tuning steps in the order they are applied.
var Items = []Item{
	{ItemRepositories, "Disable enterprise repositories and enable pve-no-subscription"},
	{ItemSysctl, "Tune kernel parameters in " + SysctlPath},
	{ItemUdev, "Install I/O scheduler udev rule"},
	{ItemHealthCron, "Schedule a ZFS pool health check"},
	{ItemUpgrade, "Run apt-get update and dist-upgrade"},
}

// Confirm decides whether an item is applied.
type Confirm func(item Item) (bool, error)

// Service defines the interface for host tuning.
type Service interface {
	Run(ctx context.Context, confirm Confirm) []models.HostItemResult
	Apply(ctx context.Context, name string) models.HostItemResult
}

// Impl implements the host Service interface. Files are read and written
// below root so tests can use a temporary directory.
type Impl struct {
	executor executor.CommandExecutor
	cfg      models.HostConfig
	root     string
	logger   zerolog.Logger
}

// New creates a new host tuning service for the local node.
func New(logger zerolog.Logger, cfg models.HostConfig) *Impl {
	return NewWithExecutor(logger, cfg, executor.NewLocal(), "/")
}

// NewWithExecutor creates a host service with a custom executor and root (for testing).
func NewWithExecutor(logger zerolog.Logger, cfg models.HostConfig, exec executor.CommandExecutor, root string) *Impl {
	return &Impl{
		executor: exec,
		cfg:      cfg,
		root:     root,
		logger:   logger,
	}
}

// Run asks confirm for every item and applies the accepted ones. A failed
// item does not stop the others. pveproxy is restarted when any item
// changed a file.
func (s *Impl) Run(ctx context.Context, confirm Confirm) []models.HostItemResult {
	var results []models.HostItemResult
	changed := false

	for _, item := range Items {
		ok, err := confirm(item)
		if err != nil {
			results = append(results, models.HostItemResult{Item: item.Name, Status: models.ItemFailed, Error: err})
			continue
		}
		if !ok {
			results = append(results, models.HostItemResult{Item: item.Name, Status: models.ItemSkipped})
			continue
		}

		result := s.Apply(ctx, item.Name)
		changed = changed || result.Changed
		results = append(results, result)
	}

	if !changed {
		return results
	}

	restart := models.HostItemResult{Item: ItemRestartProxy, Status: models.ItemApplied}
	if out, err := s.executor.Execute(ctx, "systemctl", "restart", "pveproxy"); err != nil {
		restart.Status = models.ItemFailed
		restart.Output = strings.TrimSpace(string(out))
		restart.Error = fmt.Errorf("failed to restart pveproxy: %w", err)
	}
	return append(results, restart)
}

// Apply runs a single item by name.
func (s *Impl) Apply(ctx context.Context, name string) models.HostItemResult {
	logger := s.logger.With().Str("item", name).Logger()
	logger.Info().Msg("applying host tuning item")

	var (
		changed bool
		output  string
		err     error
	)
	switch name {
	case ItemRepositories:
		changed, err = s.repositories(ctx)
	case ItemSysctl:
		changed, output, err = s.sysctl(ctx)
	case ItemUdev:
		changed, output, err = s.udev(ctx)
	case ItemHealthCron:
		changed, err = s.writeIfChanged(HealthCronPath, []byte(HealthCron(s.cfg.HealthSchedule)), 0o644)
	case ItemUpgrade:
		output, err = s.upgrade(ctx)
	default:
		err = fmt.Errorf("unknown host item %q", name)
	}

	result := models.HostItemResult{Item: name, Status: models.ItemApplied, Changed: changed, Output: output}
	if err != nil {
		result.Status = models.ItemFailed
		result.Error = err
		logger.Error().Err(err).Msg("host tuning item failed")
		return result
	}
	logger.Info().Bool("changed", changed).Msg("host tuning item applied")
	return result
}

// Codename reads VERSION_CODENAME from os-release.
func (s *Impl) Codename() (string, error) {
	env, err := godotenv.Read(s.path(OSReleasePath))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", OSReleasePath, err)
	}
	codename := env["VERSION_CODENAME"]
	if codename == "" {
		return "", fmt.Errorf("VERSION_CODENAME missing from %s", OSReleasePath)
	}
	return codename, nil
}

func (s *Impl) repositories(_ context.Context) (bool, error) {
	codename, err := s.Codename()
	if err != nil {
		return false, err
	}

	changed := false
	entries, err := os.ReadDir(s.path(SourcesDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to list %s: %w", SourcesDir, err)
	}
	for _, e := range entries {
		name := e.Name()
		var disable func(string) string
		switch filepath.Ext(name) {
		case ".list":
			disable = DisableEnterpriseList
		case ".sources":
			disable = DisableEnterpriseSources
		default:
			continue
		}

		path := filepath.Join(SourcesDir, name)
		data, err := os.ReadFile(s.path(path))
		if err != nil {
			return changed, fmt.Errorf("failed to read %s: %w", path, err)
		}
		updated := disable(string(data))
		if updated == string(data) {
			continue
		}
		if err := os.WriteFile(s.path(path), []byte(updated), 0o644); err != nil { //nolint:gosec // apt sources are world-readable
			return changed, fmt.Errorf("failed to write %s: %w", path, err)
		}
		s.logger.Info().Str("file", path).Msg("enterprise repository disabled")
		changed = true
	}

	line := fmt.Sprintf("deb http://download.proxmox.com/debian/pve %s pve-no-subscription\n", codename)
	wrote, err := s.writeIfChanged(NoSubscriptionSrc, []byte(line), 0o644)
	return changed || wrote, err
}

func (s *Impl) sysctl(ctx context.Context) (bool, string, error) {
	settings := maps.Clone(DefaultSysctl)
	maps.Copy(settings, s.cfg.Sysctl)

	current, err := os.ReadFile(s.path(SysctlPath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, "", fmt.Errorf("failed to read %s: %w", SysctlPath, err)
	}

	changed, err := s.writeIfChanged(SysctlPath, []byte(MergeSysctl(string(current), settings)), 0o644)
	if err != nil {
		return false, "", err
	}

	out, err := s.executor.Execute(ctx, "sysctl", "-p")
	if err != nil {
		return changed, strings.TrimSpace(string(out)), fmt.Errorf("sysctl -p failed: %w", err)
	}
	return changed, "", nil
}

func (s *Impl) udev(ctx context.Context) (bool, string, error) {
	changed, err := s.writeIfChanged(UdevRulePath, []byte(UdevRule), 0o644)
	if err != nil {
		return false, "", err
	}

	for _, args := range [][]string{
		{"control", "--reload-rules"},
		{"trigger", "--subsystem-match=block", "--action=change"},
	} {
		if out, err := s.executor.Execute(ctx, "udevadm", args...); err != nil {
			return changed, strings.TrimSpace(string(out)), fmt.Errorf("udevadm %s failed: %w", args[0], err)
		}
	}
	return changed, "", nil
}

func (s *Impl) upgrade(ctx context.Context) (string, error) {
	if out, err := s.executor.Execute(ctx, "apt-get", "update"); err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("apt-get update failed: %w", err)
	}
	if out, err := s.executor.Execute(ctx, "apt-get", "-y", "dist-upgrade"); err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("apt-get dist-upgrade failed: %w", err)
	}
	return "", nil
}

// writeIfChanged writes data to path below root unless it already holds it.
func (s *Impl) writeIfChanged(path string, data []byte, perm os.FileMode) (bool, error) {
	full := s.path(path)
	if current, err := os.ReadFile(full); err == nil && string(current) == string(data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil { //nolint:gosec // system config dirs
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(full, data, perm); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

func (s *Impl) path(p string) string {
	return filepath.Join(s.root, p)
}

// HealthCron returns the cron.d entry logging unhealthy pools to syslog.
func HealthCron(schedule string) string {
	return "# Managed by pve-homelab\n" +
		"PATH=/usr/sbin:/usr/bin:/sbin:/bin\n" +
		schedule + ` root out=$(zpool status -x); [ "$out" = "all pools are healthy" ] || echo "$out" | logger -t zfs-health` + "\n"
}

// DisableEnterpriseList comments out enterprise deb lines.
func DisableEnterpriseList(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "deb") && strings.Contains(trimmed, enterpriseHost) {
			lines[i] = "# " + line
		}
	}
	return strings.Join(lines, "\n")
}

// DisableEnterpriseSources sets "Enabled: no" on deb822 stanzas that point
// at the enterprise repository.
func DisableEnterpriseSources(content string) string {
	stanzas := strings.Split(content, "\n\n")
	for i, stanza := range stanzas {
		if !strings.Contains(stanza, enterpriseHost) {
			continue
		}

		lines := strings.Split(stanza, "\n")
		found := false
		for j, line := range lines {
			if strings.HasPrefix(strings.ToLower(line), "enabled:") {
				lines[j] = "Enabled: no"
				found = true
			}
		}
		if !found {
			trailing := ""
			if n := len(lines); n > 0 && lines[n-1] == "" {
				lines, trailing = lines[:n-1], "\n"
			}
			lines = append(lines, "Enabled: no")
			stanzas[i] = strings.Join(lines, "\n") + trailing
			continue
		}
		stanzas[i] = strings.Join(lines, "\n")
	}
	return strings.Join(stanzas, "\n\n")
}

// MergeSysctl updates keys already present in content and appends the rest
// in sorted order. Comments and unrelated keys are kept.
func MergeSysctl(content string, settings map[string]string) string {
	seen := make(map[string]bool, len(settings))
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		key, current, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value, managed := settings[key]
		if !managed {
			continue
		}
		seen[key] = true
		if strings.TrimSpace(current) != value {
			lines[i] = key + " = " + value
		}
	}

	for _, key := range slices.Sorted(maps.Keys(settings)) {
		if !seen[key] {
			lines = append(lines, key+" = "+settings[key])
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

package hardware

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/rs/zerolog"
)

// Byte sizes.
const (
	MiB uint64 = 1 << 20
	GiB uint64 = 1 << 30
	TiB uint64 = 1 << 40
)

// Default locations of the ARC configuration.
const (
	DefaultModprobePath = "/etc/modprobe.d/zfs.conf"
	DefaultParamDir     = "/sys/module/zfs/parameters"
)

// RecommendARC sizes the ARC as 2 GiB plus 1 GiB per started TiB of pool,
// capped at half of RAM (a quarter on low-power CPUs). The minimum is half
// the maximum, capped at an eighth of RAM.
func RecommendARC(profile models.HardwareProfile, poolBytes uint64) models.ARCSettings {
	tib := (poolBytes + TiB - 1) / TiB
	maxBytes := 2*GiB + tib*GiB

	limit := profile.TotalMemory / 2
	if profile.LowPower {
		limit = profile.TotalMemory / 4
	}
	if maxBytes > limit {
		maxBytes = limit
	}
	if maxBytes < 512*MiB {
		maxBytes = 512 * MiB
	}

	minBytes := maxBytes / 2
	if eighth := profile.TotalMemory / 8; minBytes > eighth {
		minBytes = eighth
	}
	if minBytes < 256*MiB {
		minBytes = 256 * MiB
	}
	if minBytes >= maxBytes {
		minBytes = maxBytes / 2
	}

	return models.ARCSettings{MaxBytes: maxBytes, MinBytes: minBytes}
}

// RenderModprobe returns the contents of /etc/modprobe.d/zfs.conf.
func RenderModprobe(settings models.ARCSettings) string {
	var b strings.Builder
	b.WriteString("# Managed by pve-homelab\n")
	fmt.Fprintf(&b, "# ARC max %s, min %s\n", FormatBytes(settings.MaxBytes), FormatBytes(settings.MinBytes))
	fmt.Fprintf(&b, "options zfs zfs_arc_max=%d\n", settings.MaxBytes)
	fmt.Fprintf(&b, "options zfs zfs_arc_min=%d\n", settings.MinBytes)
	return b.String()
}

// ARCService writes ARC limits to disk and to the running kernel module.
type ARCService struct {
	executor     executor.CommandExecutor
	logger       zerolog.Logger
	modprobePath string
	paramDir     string
}

// NewARCService creates an ARC service for the local host.
func NewARCService(logger zerolog.Logger) *ARCService {
	return NewARCServiceWithExecutor(logger, executor.NewLocal(), DefaultModprobePath, DefaultParamDir)
}

// NewARCServiceWithExecutor creates an ARC service with custom paths (for testing).
func NewARCServiceWithExecutor(logger zerolog.Logger, exec executor.CommandExecutor, modprobePath, paramDir string) *ARCService {
	return &ARCService{
		executor:     exec,
		logger:       logger,
		modprobePath: modprobePath,
		paramDir:     paramDir,
	}
}

// Apply persists settings and applies them at runtime. The initramfs is
// regenerated when root is on ZFS so the limits hold at early boot.
func (s *ARCService) Apply(ctx context.Context, settings models.ARCSettings, profile models.HardwareProfile) error {
	if settings.MinBytes >= settings.MaxBytes {
		return fmt.Errorf("zfs_arc_min (%d) must be below zfs_arc_max (%d)", settings.MinBytes, settings.MaxBytes)
	}

	if err := s.executor.WriteFile(ctx, s.modprobePath, []byte(RenderModprobe(settings)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.modprobePath, err)
	}
	s.logger.Info().Str("path", s.modprobePath).Msg("ARC limits persisted")

	// Raising max before min keeps min < max on the live module.
	params := []struct {
		name  string
		value uint64
	}{
		{"zfs_arc_max", settings.MaxBytes},
		{"zfs_arc_min", settings.MinBytes},
	}
	for _, p := range params {
		path := filepath.Join(s.paramDir, p.name)
		if err := s.executor.WriteFile(ctx, path, []byte(strconv.FormatUint(p.value, 10)+"\n"), 0o644); err != nil {
			s.logger.Warn().Err(err).Str("param", p.name).Msg("runtime ARC update failed, limits apply after reboot")
			break
		}
	}

	if profile.RootOnZFS {
		s.logger.Info().Msg("root on ZFS, updating initramfs")
		output, err := s.executor.Execute(ctx, "update-initramfs", "-u", "-k", "all")
		if err != nil {
			return fmt.Errorf("update-initramfs failed: %w, output: %s", err, strings.TrimSpace(string(output)))
		}
	}

	return nil
}

// FormatBytes formats bytes into human-readable format.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParseSize parses sizes like "4G", "512M", "1.5GiB" or a plain byte count.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "IB"), "B")
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
	case 'M':
		mult = MiB
	case 'G':
		mult = GiB
	case 'T':
		mult = TiB
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return uint64(f * float64(mult)), nil
}

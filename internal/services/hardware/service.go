// Package hardware detects the host profile and sizes the ZFS ARC.
package hardware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

var lowPowerCPU = regexp.MustCompile(`\bN(95|97|100|150|200|250|300|305|355)\b`)

// Source reads raw hardware facts.
type Source interface {
	TotalMemory(ctx context.Context) (uint64, error)
	CPU(ctx context.Context) (model string, cores int, err error)
	RootFSType(ctx context.Context) (string, error)
}

// DefaultSource reads hardware facts with gopsutil.
type DefaultSource struct{}

// TotalMemory returns physical memory in bytes.
func (DefaultSource) TotalMemory(ctx context.Context) (uint64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.Total, nil
}

// CPU returns the first CPU model name and the logical core count.
func (DefaultSource) CPU(ctx context.Context) (string, int, error) {
	info, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", 0, err
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return "", 0, err
	}
	model := ""
	if len(info) > 0 {
		model = info[0].ModelName
	}
	return model, cores, nil
}

// RootFSType returns the filesystem type mounted at /.
func (DefaultSource) RootFSType(ctx context.Context) (string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		if p.Mountpoint == "/" {
			return p.Fstype, nil
		}
	}
	return "", nil
}

// Service defines the interface for hardware detection.
type Service interface {
	Detect(ctx context.Context) (*models.HardwareProfile, error)
}

// Impl implements the Service interface.
type Impl struct {
	source Source
	logger zerolog.Logger
}

// New creates a new hardware service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{source: DefaultSource{}, logger: logger}
}

// NewWithSource creates a new hardware service with a custom source (for testing).
func NewWithSource(logger zerolog.Logger, source Source) *Impl {
	return &Impl{source: source, logger: logger}
}

// Detect builds the hardware profile of the local host.
func (s *Impl) Detect(ctx context.Context) (*models.HardwareProfile, error) {
	total, err := s.source.TotalMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory: %w", err)
	}

	model, cores, err := s.source.CPU(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read CPU info: %w", err)
	}

	profile := &models.HardwareProfile{
		TotalMemory: total,
		CPUModel:    model,
		Cores:       cores,
		LowPower:    lowPowerCPU.MatchString(model),
	}

	fsType, err := s.source.RootFSType(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not determine root filesystem")
	}
	profile.RootOnZFS = fsType == "zfs"

	s.logger.Info().
		Str("cpu", profile.CPUModel).
		Int("cores", profile.Cores).
		Uint64("memory_bytes", profile.TotalMemory).
		Bool("low_power", profile.LowPower).
		Bool("root_on_zfs", profile.RootOnZFS).
		Msg("hardware detected")

	return profile, nil
}

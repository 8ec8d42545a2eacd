// Package zfs reads and sets ZFS pool and dataset properties.
package zfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/rs/zerolog"
)

// ErrNoPool is returned when zpool reports no imported pool.
var ErrNoPool = errors.New("no ZFS pool found")

// TunableProperties are the dataset properties shown by zfs status.
var TunableProperties = []string{
	"recordsize", "volblocksize", "compression", "atime", "relatime",
	"sync", "logbias", "xattr", "dnodesize", "primarycache",
}

// Service defines the interface for ZFS operations.
type Service interface {
	ListPools(ctx context.Context) ([]models.Pool, error)
	ListDatasets(ctx context.Context, pool string) ([]models.Dataset, error)
	GetProperties(ctx context.Context, dataset string, names ...string) (map[string]models.Property, error)
	SafeSet(ctx context.Context, dataset, property, value string) (*models.PropertyResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor executor.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new ZFS service for the local host.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: executor.NewLocal(),
		logger:   logger,
	}
}

// NewWithExecutor creates a new ZFS service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, exec executor.CommandExecutor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
	}
}

// ListPools returns every imported pool. ErrNoPool is returned when none exist.
func (s *Impl) ListPools(ctx context.Context) ([]models.Pool, error) {
	output, err := s.executor.Execute(ctx, "zpool", "list", "-Hp", "-o", "name,size,alloc,free,health")
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	pools, err := ParsePools(output)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, ErrNoPool
	}

	s.logger.Debug().Int("count", len(pools)).Msg("pools listed")
	return pools, nil
}

// ListDatasets returns the filesystems and volumes below pool.
func (s *Impl) ListDatasets(ctx context.Context, pool string) ([]models.Dataset, error) {
	output, err := s.executor.Execute(ctx, "zfs", "list", "-Hp", "-r",
		"-t", "filesystem,volume", "-o", "name,type,used,avail,mountpoint", pool)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets of %s: %w, output: %s", pool, err, strings.TrimSpace(string(output)))
	}
	return ParseDatasets(output)
}

// GetProperties reads the named properties of dataset.
func (s *Impl) GetProperties(ctx context.Context, dataset string, names ...string) (map[string]models.Property, error) {
	if len(names) == 0 {
		names = TunableProperties
	}

	output, err := s.executor.Execute(ctx, "zfs", "get", "-Hp", "-o", "property,value,source",
		strings.Join(names, ","), dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w, output: %s", dataset, err, strings.TrimSpace(string(output)))
	}
	return ParseProperties(output), nil
}

// SafeSet sets one property. A volblocksize rejected by a non-volume or
// already-written dataset is reported as skipped, not as an error. Any
// other failure is stored in the result.
func (s *Impl) SafeSet(ctx context.Context, dataset, property, value string) (*models.PropertyResult, error) {
	result := &models.PropertyResult{
		Dataset:  dataset,
		Property: property,
		Value:    value,
	}

	s.logger.Info().
		Str("dataset", dataset).
		Str("property", property).
		Str("value", value).
		Msg("setting ZFS property")

	output, err := s.executor.Execute(ctx, "zfs", "set", property+"="+value, dataset)
	result.Output = strings.TrimSpace(string(output))

	if err == nil {
		result.Status = models.PropertyApplied
		return result, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if property == "volblocksize" && isVolblocksizeRejection(result.Output) {
		s.logger.Info().
			Str("dataset", dataset).
			Msg("volblocksize only applies to new volumes, skipped")
		result.Status = models.PropertySkipped
		return result, nil
	}

	result.Status = models.PropertyFailed
	result.Error = fmt.Errorf("failed to set %s=%s on %s: %w", property, value, dataset, err)
	s.logger.Warn().Err(err).Str("output", result.Output).Msg("property set failed")
	return result, nil
}

func isVolblocksizeRejection(output string) bool {
	out := strings.ToLower(output)
	return strings.Contains(out, "does not apply to datasets of this type") ||
		strings.Contains(out, "readonly") ||
		strings.Contains(out, "read-only")
}

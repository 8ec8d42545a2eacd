// Package proxmox wraps the Proxmox VE command line tools (pvesh, pvecm,
// pct, pvesm, pveam) on a single node.
package proxmox

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/rs/zerolog"
)

// RequiredTools are the binaries every Proxmox node provides.
var RequiredTools = []string{"pvesh", "pct", "pvesm", "pveam"}

// CreateOptions describe a new LXC container.
type CreateOptions struct {
	ID           int
	Template     string // volume id, e.g. local:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst
	Hostname     string
	Storage      string
	DiskGB       int
	MemoryMB     int
	SwapMB       int
	Cores        int
	Net0         string
	Unprivileged bool
}

// rootPasswordPath holds the chpasswd input inside a container while its
// root password is set.
const rootPasswordPath = "/root/.pve-homelab-chpasswd"

// Service defines the interface for Proxmox operations on one node.
type Service interface {
	Nodes(ctx context.Context) ([]models.Node, error)
	ContainerIDs(ctx context.Context) ([]int, error)
	ClusterVMIDs(ctx context.Context) (map[int]string, error)
	Storages(ctx context.Context, content string) ([]models.Storage, error)
	Templates(ctx context.Context, storage string) ([]string, error)
	AvailableTemplates(ctx context.Context) ([]string, error)
	DownloadTemplate(ctx context.Context, storage, name string) error
	CreateContainer(ctx context.Context, opts CreateOptions) error
	StartContainer(ctx context.Context, id int) error
	SetNetwork(ctx context.Context, id int, net0 string) error
	Exec(ctx context.Context, id int, script string) ([]byte, error)
	Push(ctx context.Context, id int, dest string, data []byte, perm os.FileMode) error
	SetRootPassword(ctx context.Context, id int, password string) error
}

// Impl implements the Service interface.
type Impl struct {
	executor executor.CommandExecutor
	logger   zerolog.Logger
}

// New creates a Proxmox service for the local node.
func New(logger zerolog.Logger) *Impl {
	return NewWithExecutor(logger, executor.NewLocal())
}

// NewWithExecutor creates a Proxmox service over exec, which may be a
// remote SSH connection or a test recorder.
func NewWithExecutor(logger zerolog.Logger, exec executor.CommandExecutor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
	}
}

// Nodes lists cluster members. It prefers the typed cluster status from
// pvesh, falls back to `pvecm nodes` and finally treats the host as a
// standalone node.
func (s *Impl) Nodes(ctx context.Context) ([]models.Node, error) {
	output, err := s.executor.Execute(ctx, "pvesh", "get", "/cluster/status", "--output-format", "json")
	if err == nil {
		nodes, perr := ParseClusterStatus(output)
		if perr == nil && len(nodes) > 0 {
			return nodes, nil
		}
		s.logger.Debug().Err(perr).Msg("cluster status has no nodes, trying pvecm")
	} else {
		s.logger.Debug().Err(err).Msg("pvesh cluster status failed, trying pvecm")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	output, err = s.executor.Execute(ctx, "pvecm", "nodes")
	if err == nil {
		nodes, perr := ParsePvecmNodes(output)
		if perr == nil && len(nodes) > 0 {
			return nodes, nil
		}
	}

	s.logger.Debug().Msg("no cluster membership, using standalone node")
	output, err = s.executor.Execute(ctx, "hostname")
	if err != nil {
		return nil, fmt.Errorf("failed to determine node name: %w", err)
	}
	name := strings.TrimSpace(string(output))
	if name == "" {
		return nil, fmt.Errorf("failed to determine node name: empty hostname")
	}

	return []models.Node{{Name: name, ID: 1, Local: true, Online: true}}, nil
}

// ContainerIDs lists the containers on this node.
func (s *Impl) ContainerIDs(ctx context.Context) ([]int, error) {
	output, err := s.executor.Execute(ctx, "pct", "list")
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return ParsePctList(output), nil
}

// ClusterVMIDs maps every guest id known to the cluster to its node.
func (s *Impl) ClusterVMIDs(ctx context.Context) (map[int]string, error) {
	output, err := s.executor.Execute(ctx, "pvesh", "get", "/cluster/resources",
		"--type", "vm", "--output-format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster resources: %w", err)
	}
	return ParseClusterResources(output)
}

// Storages lists the storages that accept content.
func (s *Impl) Storages(ctx context.Context, content string) ([]models.Storage, error) {
	output, err := s.executor.Execute(ctx, "pvesm", "status", "--content", content)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage status: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return ParseStorageStatus(output)
}

// Templates lists the container templates already downloaded to storage.
func (s *Impl) Templates(ctx context.Context, storage string) ([]string, error) {
	output, err := s.executor.Execute(ctx, "pveam", "list", storage)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates on %s: %w", storage, err)
	}
	return ParseTemplateList(output), nil
}

// AvailableTemplates refreshes the appliance index and lists the system templates.
func (s *Impl) AvailableTemplates(ctx context.Context) ([]string, error) {
	if output, err := s.executor.Execute(ctx, "pveam", "update"); err != nil {
		s.logger.Warn().Err(err).Str("output", strings.TrimSpace(string(output))).Msg("pveam update failed, using cached index")
	}

	output, err := s.executor.Execute(ctx, "pveam", "available", "--section", "system")
	if err != nil {
		return nil, fmt.Errorf("failed to list available templates: %w", err)
	}
	return ParseAvailableTemplates(output), nil
}

// DownloadTemplate downloads name to storage.
func (s *Impl) DownloadTemplate(ctx context.Context, storage, name string) error {
	s.logger.Info().Str("storage", storage).Str("template", name).Msg("downloading template")

	output, err := s.executor.Execute(ctx, "pveam", "download", storage, name)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w, output: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// CreateContainer runs pct create with opts.
func (s *Impl) CreateContainer(ctx context.Context, opts CreateOptions) error {
	args := []string{
		"create", strconv.Itoa(opts.ID), opts.Template,
		"--hostname", opts.Hostname,
		"--rootfs", fmt.Sprintf("%s:%d", opts.Storage, opts.DiskGB),
		"--memory", strconv.Itoa(opts.MemoryMB),
		"--swap", strconv.Itoa(opts.SwapMB),
		"--cores", strconv.Itoa(opts.Cores),
		"--net0", opts.Net0,
		"--onboot", "1",
		"--features", "nesting=1",
	}
	if opts.Unprivileged {
		args = append(args, "--unprivileged", "1")
	}

	s.logger.Info().Int("id", opts.ID).Str("hostname", opts.Hostname).Msg("creating container")

	output, err := s.executor.Execute(ctx, "pct", args...)
	if err != nil {
		return fmt.Errorf("failed to create container %d: %w, output: %s", opts.ID, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// StartContainer starts container id.
func (s *Impl) StartContainer(ctx context.Context, id int) error {
	output, err := s.executor.Execute(ctx, "pct", "start", strconv.Itoa(id))
	if err != nil {
		return fmt.Errorf("failed to start container %d: %w, output: %s", id, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// SetNetwork replaces the net0 definition of container id.
func (s *Impl) SetNetwork(ctx context.Context, id int, net0 string) error {
	output, err := s.executor.Execute(ctx, "pct", "set", strconv.Itoa(id), "--net0", net0)
	if err != nil {
		return fmt.Errorf("failed to set network of container %d: %w, output: %s", id, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Exec runs script with bash inside container id.
func (s *Impl) Exec(ctx context.Context, id int, script string) ([]byte, error) {
	output, err := s.executor.Execute(ctx, "pct", "exec", strconv.Itoa(id), "--", "bash", "-c", script)
	if err != nil {
		return output, fmt.Errorf("container %d: %w", id, err)
	}
	return output, nil
}

// SetRootPassword sets the root password of running container id. The
// password travels in a pushed file read by chpasswd, so it never appears
// on a command line.
func (s *Impl) SetRootPassword(ctx context.Context, id int, password string) error {
	if err := s.Push(ctx, id, rootPasswordPath, []byte("root:"+password+"\n"), 0o600); err != nil {
		return err
	}

	output, err := s.Exec(ctx, id, "chpasswd < "+rootPasswordPath+"; rc=$?; rm -f "+rootPasswordPath+"; exit $rc")
	if err != nil {
		return fmt.Errorf("failed to set root password: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Push copies data to dest inside container id by staging it on the node.
func (s *Impl) Push(ctx context.Context, id int, dest string, data []byte, perm os.FileMode) error {
	staging := fmt.Sprintf("/tmp/pve-homelab-%d-%s", id, path.Base(dest))

	if err := s.executor.WriteFile(ctx, staging, data, 0o600); err != nil {
		return err
	}
	defer func() {
		if _, err := s.executor.Execute(context.WithoutCancel(ctx), "rm", "-f", staging); err != nil {
			s.logger.Debug().Err(err).Str("path", staging).Msg("failed to remove staging file")
		}
	}()

	if output, err := s.executor.Execute(ctx, "pct", "exec", strconv.Itoa(id), "--", "mkdir", "-p", path.Dir(dest)); err != nil {
		return fmt.Errorf("failed to create %s in container %d: %w, output: %s", path.Dir(dest), id, err, strings.TrimSpace(string(output)))
	}

	output, err := s.executor.Execute(ctx, "pct", "push", strconv.Itoa(id), staging, dest,
		"--perms", fmt.Sprintf("%04o", perm.Perm()))
	if err != nil {
		return fmt.Errorf("failed to push %s to container %d: %w, output: %s", dest, id, err, strings.TrimSpace(string(output)))
	}
	return nil
}

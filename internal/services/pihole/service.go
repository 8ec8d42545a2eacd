// Package pihole installs Unbound and Pi-hole inside a container.
package pihole

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/rs/zerolog"
)

// InstallerURL is the Pi-hole basic-install script.
const InstallerURL = "https://install.pi-hole.net"

// BasePackages are installed before anything else.
var BasePackages = []string{"curl", "ca-certificates", "dnsutils", "iputils-ping", "ufw", "cron"}

// Service defines the interface for the in-container install steps.
type Service interface {
	InstallBasePackages(ctx context.Context) error
	InstallResolver(ctx context.Context) error
	InstallAdBlocker(ctx context.Context, vars SetupVars, webPassword string) error
	ScheduleHealthCheck(ctx context.Context) error
	SelfTest(ctx context.Context) error
}

// Impl implements the Service interface.
type Impl struct {
	executor executor.CommandExecutor
	logger   zerolog.Logger
}

// New creates a Pi-hole service over exec, usually a container executor.
func New(logger zerolog.Logger, exec executor.CommandExecutor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
	}
}

// InstallBasePackages refreshes apt and installs BasePackages.
func (s *Impl) InstallBasePackages(ctx context.Context) error {
	if err := s.run(ctx, "apt-get", "update"); err != nil {
		return err
	}
	args := append([]string{"install", "-y", "--no-install-recommends"}, BasePackages...)
	return s.run(ctx, "apt-get", args...)
}

// InstallResolver installs Unbound, writes its Pi-hole config and checks
// that it resolves.
func (s *Impl) InstallResolver(ctx context.Context) error {
	if err := s.run(ctx, "apt-get", "install", "-y", "unbound"); err != nil {
		return err
	}
	if err := s.executor.WriteFile(ctx, UnboundConfPath, UnboundConf, 0o644); err != nil {
		return err
	}
	if err := s.run(ctx, "systemctl", "enable", "--now", "unbound"); err != nil {
		return err
	}
	if err := s.run(ctx, "systemctl", "restart", "unbound"); err != nil {
		return err
	}
	return s.resolve(ctx, UnboundPort)
}

// InstallAdBlocker runs the Pi-hole installer unattended and sets the web password.
func (s *Impl) InstallAdBlocker(ctx context.Context, vars SetupVars, webPassword string) error {
	conf, err := RenderSetupVars(vars)
	if err != nil {
		return fmt.Errorf("failed to render setupVars.conf: %w", err)
	}
	if err := s.executor.WriteFile(ctx, SetupVarsPath, conf, 0o644); err != nil {
		return err
	}

	s.logger.Info().Msg("running Pi-hole installer")
	if err := s.run(ctx, "bash", "-c", "curl -sSL "+InstallerURL+" | PIHOLE_SKIP_OS_CHECK=true bash /dev/stdin --unattended"); err != nil {
		return err
	}

	return s.setPassword(ctx, webPassword)
}

// setPassword uses the v6 command and falls back to the v5 one. Both
// prompt for the password twice when called without one, so the answers
// are fed from a file instead of a command argument.
func (s *Impl) setPassword(ctx context.Context, password string) error {
	answers := []byte(password + "\n" + password + "\n")
	if err := s.executor.WriteFile(ctx, WebPasswordPath, answers, 0o600); err != nil {
		return err
	}
	defer func() {
		if _, err := s.executor.Execute(context.WithoutCancel(ctx), "rm", "-f", WebPasswordPath); err != nil {
			s.logger.Debug().Err(err).Str("path", WebPasswordPath).Msg("failed to remove password file")
		}
	}()

	if err := s.run(ctx, "bash", "-c", "pihole setpassword < "+WebPasswordPath); err == nil {
		return nil
	}
	if err := s.run(ctx, "bash", "-c", "pihole -a -p < "+WebPasswordPath); err != nil {
		return fmt.Errorf("failed to set web password: %w", err)
	}
	return nil
}

// ScheduleHealthCheck installs the health script and its cron entry.
func (s *Impl) ScheduleHealthCheck(ctx context.Context) error {
	if err := s.executor.WriteFile(ctx, HealthScriptPath, HealthScript, 0o755); err != nil {
		return err
	}
	return s.executor.WriteFile(ctx, HealthCronPath, HealthCron, 0o644)
}

// SelfTest resolves a name through Unbound and through Pi-hole.
func (s *Impl) SelfTest(ctx context.Context) error {
	if err := s.resolve(ctx, UnboundPort); err != nil {
		return fmt.Errorf("unbound: %w", err)
	}
	if err := s.resolve(ctx, 53); err != nil {
		return fmt.Errorf("pihole: %w", err)
	}
	return nil
}

func (s *Impl) resolve(ctx context.Context, port int) error {
	output, err := s.executor.Execute(ctx, "dig", "@127.0.0.1", "-p", strconv.Itoa(port),
		HealthCheckDomain, "+short", "+time=3", "+tries=2")
	if err != nil {
		return fmt.Errorf("dig on port %d: %w", port, err)
	}
	if strings.TrimSpace(string(output)) == "" {
		return fmt.Errorf("dig on port %d: no answer for %s", port, HealthCheckDomain)
	}
	return nil
}

func (s *Impl) run(ctx context.Context, name string, args ...string) error {
	output, err := s.executor.Execute(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w, output: %s", name, firstArg(args), err, lastLines(string(output), 5))
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Package firewall builds and applies ufw rules.
package firewall

import (
	"context"
	"fmt"
	"strings"

	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/rs/zerolog"
)

// Action is what ufw does with matching traffic.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Protocol restricts a rule to one transport. ProtocolAny matches both.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
	ProtocolAny Protocol = ""
)

// Rule is one ufw rule. An empty Source means any.
type Rule struct {
	Action   Action
	Source   string
	Port     string
	Protocol Protocol
	Comment  string
}

// Args returns the ufw arguments for adding the rule.
func (r Rule) Args() []string {
	verb := string(r.Action)
	if verb == "" {
		verb = string(ActionAllow)
	}

	args := []string{verb}
	if r.Source != "" {
		args = append(args, "from", r.Source)
	}
	args = append(args, "to", "any", "port", r.Port)
	if r.Protocol != ProtocolAny {
		args = append(args, "proto", string(r.Protocol))
	}
	if r.Comment != "" {
		args = append(args, "comment", r.Comment)
	}
	return args
}

// String returns the rule as a ufw command line.
func (r Rule) String() string {
	return "ufw " + strings.Join(r.Args(), " ")
}

// ResolverRules are the rules a Pi-hole container needs: SSH, DNS and the
// admin web UI, reachable from lanCIDR only.
func ResolverRules(lanCIDR string) []Rule {
	return []Rule{
		{Action: ActionAllow, Source: lanCIDR, Port: "22", Protocol: ProtocolTCP, Comment: "ssh"},
		{Action: ActionAllow, Source: lanCIDR, Port: "53", Protocol: ProtocolTCP, Comment: "dns"},
		{Action: ActionAllow, Source: lanCIDR, Port: "53", Protocol: ProtocolUDP, Comment: "dns"},
		{Action: ActionAllow, Source: lanCIDR, Port: "80", Protocol: ProtocolTCP, Comment: "pihole-web"},
	}
}

// UFW applies rules through an executor, typically one scoped to a container.
type UFW struct {
	exec   executor.CommandExecutor
	logger zerolog.Logger
}

// NewUFW creates a ufw backend over exec.
func NewUFW(logger zerolog.Logger, exec executor.CommandExecutor) *UFW {
	return &UFW{exec: exec, logger: logger}
}

// Configure sets default policies, adds rules and enables the firewall.
func (u *UFW) Configure(ctx context.Context, rules []Rule) error {
	steps := [][]string{
		{"default", "deny", "incoming"},
		{"default", "allow", "outgoing"},
	}
	for _, r := range rules {
		steps = append(steps, r.Args())
	}
	steps = append(steps, []string{"--force", "enable"})

	for _, args := range steps {
		output, err := u.exec.Execute(ctx, "ufw", args...)
		if err != nil {
			return fmt.Errorf("ufw %s: %w, output: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
		}
	}

	u.logger.Debug().Int("rules", len(rules)).Msg("firewall enabled")
	return nil
}

// Status returns the verbose ufw status.
func (u *UFW) Status(ctx context.Context) (string, error) {
	output, err := u.exec.Execute(ctx, "ufw", "status", "verbose")
	if err != nil {
		return "", fmt.Errorf("ufw status: %w", err)
	}
	return string(output), nil
}

// Verify checks that ufw reports the firewall as active.
func (u *UFW) Verify(ctx context.Context) error {
	status, err := u.Status(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(status, "Status: active") {
		first, _, _ := strings.Cut(strings.TrimSpace(status), "\n")
		return fmt.Errorf("firewall not active: %q", first)
	}
	return nil
}

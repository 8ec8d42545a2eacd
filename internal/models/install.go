package models

import "time"

// InstallStatus is the terminal outcome of one node's installation.
type InstallStatus string

// Installation outcomes.
const (
	InstallSuccess InstallStatus = "success"
	InstallPartial InstallStatus = "partial"
	InstallFailed  InstallStatus = "failed"
)

// InstallStage is the furthest point an installation reached.
type InstallStage string

// Installation stages in forward order.
const (
	StagePending            InstallStage = "pending"
	StageCreated            InstallStage = "created"
	StagePackagesInstalled  InstallStage = "packages_installed"
	StageNetworkVerified    InstallStage = "network_verified"
	StageResolverInstalled  InstallStage = "resolver_installed"
	StageAdBlockerInstalled InstallStage = "adblocker_installed"
	StageFirewallConfigured InstallStage = "firewall_configured"
	StageDone               InstallStage = "done"
)

// StepStatus is the outcome of a single installer step.
type StepStatus string

// Step outcomes.
const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records one installer step.
type StepResult struct {
	Name     string        `yaml:"name"`
	Status   StepStatus    `yaml:"status"`
	Duration time.Duration `yaml:"duration"`
	Message  string        `yaml:"message,omitempty"`
}

// InstallResult holds the result of one node's installation.
type InstallResult struct {
	Node      Node
	Container Container
	Status    InstallStatus
	Stage     InstallStage
	Steps     []StepResult
	Duration  time.Duration
	Error     error
}

// Summary aggregates the results of one orchestrated run.
type Summary struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Results   []InstallResult
}

// Counts returns the number of successful, partial and failed installs.
func (s Summary) Counts() (success, partial, failed int) {
	for _, r := range s.Results {
		switch r.Status {
		case InstallSuccess:
			success++
		case InstallPartial:
			partial++
		default:
			failed++
		}
	}
	return success, partial, failed
}

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"gopkg.in/yaml.v3"
)

// Document is the YAML run report.
type Document struct {
	RunID     string       `yaml:"run_id"`
	StartTime time.Time    `yaml:"start_time"`
	Duration  string       `yaml:"duration"`
	Totals    Totals       `yaml:"totals"`
	Nodes     []NodeReport `yaml:"nodes"`
}

// Totals counts results by status.
type Totals struct {
	Success int `yaml:"success"`
	Partial int `yaml:"partial"`
	Failed  int `yaml:"failed"`
}

// NodeReport is one node's entry in the report.
type NodeReport struct {
	Node         string               `yaml:"node"`
	ContainerID  int                  `yaml:"container_id"`
	Hostname     string               `yaml:"hostname"`
	IP           string               `yaml:"ip"`
	RootPassword string               `yaml:"root_password,omitempty"`
	WebPassword  string               `yaml:"web_password,omitempty"`
	Status       models.InstallStatus `yaml:"status"`
	Stage        models.InstallStage  `yaml:"stage"`
	Duration     string               `yaml:"duration"`
	Error        string               `yaml:"error,omitempty"`
	Steps        []models.StepResult  `yaml:"steps"`
}

// NewDocument converts a run summary into its report form.
func NewDocument(summary models.Summary) Document {
	success, partial, failed := summary.Counts()
	doc := Document{
		RunID:     summary.RunID,
		StartTime: summary.StartTime,
		Duration:  summary.Duration.Round(time.Second).String(),
		Totals:    Totals{Success: success, Partial: partial, Failed: failed},
	}

	for _, r := range summary.Results {
		n := NodeReport{
			Node:         r.Node.Name,
			ContainerID:  r.Container.ID,
			Hostname:     r.Container.Hostname,
			IP:           r.Container.IP,
			RootPassword: r.Container.RootPassword,
			WebPassword:  r.Container.WebPassword,
			Status:       r.Status,
			Stage:        r.Stage,
			Duration:     r.Duration.Round(time.Second).String(),
			Steps:        r.Steps,
		}
		if r.Error != nil {
			n.Error = r.Error.Error()
		}
		doc.Nodes = append(doc.Nodes, n)
	}
	return doc
}

// WriteYAML writes the report to path. The file holds the container root
// and web passwords and is created with mode 0600.
func WriteYAML(path string, summary models.Summary) error {
	data, err := yaml.Marshal(NewDocument(summary))
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

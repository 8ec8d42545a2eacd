package report

import (
	"fmt"
	"strconv"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pve_homelab"

// WriteMetrics writes the run as a node_exporter textfile collector file.
func WriteMetrics(path string, summary models.Summary) error {
	reg := prometheus.NewRegistry()

	nodeStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pihole",
		Name:      "install_status",
		Help:      "Outcome of the last install per node (1 for the reported status).",
	}, []string{"node", "ctid", "status"})
	nodeDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pihole",
		Name:      "install_duration_seconds",
		Help:      "Duration of the last install per node.",
	}, []string{"node"})
	installs := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pihole",
		Name:      "installs",
		Help:      "Number of nodes per outcome in the last run.",
	}, []string{"status"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pihole",
		Name:      "last_run_timestamp_seconds",
		Help:      "Start time of the last run.",
	})

	reg.MustRegister(nodeStatus, nodeDuration, installs, lastRun)

	for _, r := range summary.Results {
		nodeStatus.WithLabelValues(r.Node.Name, strconv.Itoa(r.Container.ID), string(r.Status)).Set(1)
		nodeDuration.WithLabelValues(r.Node.Name).Set(r.Duration.Seconds())
	}

	success, partial, failed := summary.Counts()
	installs.WithLabelValues(string(models.InstallSuccess)).Set(float64(success))
	installs.WithLabelValues(string(models.InstallPartial)).Set(float64(partial))
	installs.WithLabelValues(string(models.InstallFailed)).Set(float64(failed))
	lastRun.Set(float64(summary.StartTime.Unix()))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

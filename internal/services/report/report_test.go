package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testSummary() models.Summary {
	return models.Summary{
		RunID:     "b7e0c1de-1111-4222-8333-444455556666",
		StartTime: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		Duration:  6 * time.Minute,
		Results: []models.InstallResult{
			{
				Node:      models.Node{Name: "pve1"},
				Container: models.Container{ID: 200, IP: "192.168.1.100/24", Hostname: "pihole-1", RootPassword: "ROOTPW", WebPassword: "ABCDEF"},
				Status:    models.InstallSuccess,
				Stage:     models.StageDone,
				Duration:  5 * time.Minute,
				Steps:     []models.StepResult{{Name: "id_check", Status: models.StepSuccess}},
			},
			{
				Node:      models.Node{Name: "pve2"},
				Container: models.Container{ID: 201, IP: "192.168.1.101/24", Hostname: "pihole-2"},
				Status:    models.InstallFailed,
				Stage:     models.StagePending,
				Error:     errors.New("node unreachable"),
			},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteSummary(&buf, testSummary()))

	out := buf.String()
	lines := strings.Split(out, "\n")
	assert.True(t, strings.HasPrefix(lines[0], "NODE"))
	assert.Contains(t, lines[1], "pve1")
	assert.Contains(t, lines[0], "ROOT PASSWORD")
	assert.Contains(t, lines[1], "ROOTPW")
	assert.Contains(t, lines[1], "ABCDEF")
	assert.Contains(t, lines[2], "node unreachable")
	assert.Contains(t, out, "1 succeeded, 0 partial, 1 failed in 6m0s")
}

func TestWriteYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.yaml")

	require.NoError(t, WriteYAML(path, testSummary()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "b7e0c1de-1111-4222-8333-444455556666", doc.RunID)
	assert.Equal(t, Totals{Success: 1, Failed: 1}, doc.Totals)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "node unreachable", doc.Nodes[1].Error)
	assert.Equal(t, models.StageDone, doc.Nodes[0].Stage)
	assert.Contains(t, string(data), "web_password: ABCDEF")
	assert.Contains(t, string(data), "root_password: ROOTPW")
	assert.Equal(t, "ROOTPW", doc.Nodes[0].RootPassword)
	assert.Empty(t, doc.Nodes[1].RootPassword)
}

func TestWriteMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pve_homelab.prom")

	require.NoError(t, WriteMetrics(path, testSummary()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `pve_homelab_pihole_install_status{ctid="200",node="pve1",status="success"} 1`)
	assert.Contains(t, text, `pve_homelab_pihole_installs{status="failed"} 1`)
	assert.Contains(t, text, `pve_homelab_pihole_install_duration_seconds{node="pve1"} 300`)
	assert.Contains(t, text, "pve_homelab_pihole_last_run_timestamp_seconds")
}

func TestWritePropertyResults(t *testing.T) {
	var buf bytes.Buffer

	err := WritePropertyResults(&buf, []models.PropertyResult{
		{Property: "recordsize", Value: "64K", Status: models.PropertyApplied},
		{Property: "volblocksize", Value: "32K", Status: models.PropertySkipped, Output: "readonly property"},
		{Property: "sync", Value: "always", Status: models.PropertyFailed, Error: errors.New("permission denied")},
	})

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "readonly property")
	assert.Contains(t, out, "permission denied")
}

func TestWritePools(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WritePools(&buf, []models.Pool{{Name: "rpool", Size: 4 << 30, Health: "ONLINE"}}))

	assert.Contains(t, buf.String(), "4.0 GiB")
}

func TestWriteProperties_Order(t *testing.T) {
	var buf bytes.Buffer
	props := map[string]models.Property{
		"compression": {Name: "compression", Value: "lz4", Source: "local"},
		"atime":       {Name: "atime", Value: "off", Source: "default"},
	}

	require.NoError(t, WriteProperties(&buf, "rpool/data", []string{"atime", "recordsize", "compression"}, props))

	out := buf.String()
	assert.Less(t, strings.Index(out, "atime"), strings.Index(out, "compression"))
	assert.NotContains(t, out, "recordsize")
}

func TestWriteHostItems(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteHostItems(&buf, []models.HostItemResult{
		{Item: "sysctl", Status: models.ItemApplied, Changed: true},
		{Item: "upgrade", Status: models.ItemFailed, Error: errors.New("dpkg lock")},
	}))

	assert.Contains(t, buf.String(), "dpkg lock")
}

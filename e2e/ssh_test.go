//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/proxmox"
	"github.com/fgeck/pve-homelab/internal/services/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSSHConfig(t *testing.T) models.SSHConfig {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	return models.SSHConfig{
		Host:     host,
		Port:     port,
		Username: user,
		KeyPath:  keyPath,
	}
}

func TestSSHTestConnection_E2E(t *testing.T) {
	cfg := getSSHConfig(t)

	svc := ssh.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
	assert.Nil(t, result.Error)
}

func TestSSHConnectionFailed_E2E(t *testing.T) {
	cfg := models.SSHConfig{
		Host:     "192.168.255.254", // Non-routable IP
		Port:     22,
		Username: "root",
		KeyPath:  os.Getenv("TEST_SSH_KEY_PATH"),
		Timeout:  2 * time.Second,
	}

	if cfg.KeyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := ssh.New(testLogger())

	result, err := svc.TestConnection(ctx, cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.ErrorIs(t, result.Error, ssh.ErrNodeUnreachable)
}

func TestSSHInvalidKey_E2E(t *testing.T) {
	cfg := models.SSHConfig{
		Host:       "localhost",
		Port:       22,
		Username:   "root",
		PrivateKey: []byte("invalid key"),
	}

	svc := ssh.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "parse private key")
}

func TestSSHExecuteAndWriteFile_E2E(t *testing.T) {
	cfg := getSSHConfig(t)

	svc := ssh.New(testLogger())

	conn, err := svc.Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	path := "/tmp/pve-homelab-e2e/" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".txt"
	require.NoError(t, conn.WriteFile(context.Background(), path, []byte("it's a test\n"), 0o600))
	defer conn.Execute(context.Background(), "rm", "-rf", "/tmp/pve-homelab-e2e") //nolint:errcheck // cleanup

	output, err := conn.Execute(context.Background(), "cat", path)
	require.NoError(t, err)
	assert.Equal(t, "it's a test\n", string(output))

	output, err = conn.Execute(context.Background(), "stat", "-c", "%a", path)
	require.NoError(t, err)
	assert.Equal(t, "600", strings.TrimSpace(string(output)))
}

// Lists the cluster of a real Proxmox node over SSH.
func TestProxmoxNodesOverSSH_E2E(t *testing.T) {
	if os.Getenv("TEST_SSH_PROXMOX") != "true" {
		t.Skip("TEST_SSH_PROXMOX is not true")
	}
	cfg := getSSHConfig(t)

	conn, err := ssh.New(testLogger()).Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	nodes, err := proxmox.NewWithExecutor(testLogger(), conn).Nodes(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, nodes)

	local := 0
	for _, n := range nodes {
		if n.Local {
			local++
		}
	}
	assert.Equal(t, 1, local)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
zfs:
  pool: tank
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "tank", cfg.ZFS.Pool)
	// Check defaults
	assert.Equal(t, "rpool/data", cfg.ZFS.Dataset)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, "root", cfg.SSH.Username)
	assert.Equal(t, "192.168.1.100/24", cfg.Pihole.BaseIP)
	assert.Equal(t, 200, cfg.Pihole.BaseID)
	assert.Equal(t, 3, cfg.Pihole.MaxParallel)
	assert.Equal(t, 2*time.Second, cfg.Pihole.Stagger)
	assert.True(t, cfg.Pihole.Unprivileged)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Nil(t, cfg.Telegram)
	assert.Nil(t, cfg.Metrics)
	assert.Nil(t, cfg.Report)

	require.NoError(t, Validate(cfg))
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
zfs:
  pool: rpool
  dataset: rpool/vmdata
  arc_max: 8G
  arc_min: 2G

ssh:
  port: 2222
  username: admin
  key_path: /home/admin/.ssh/id_ed25519
  timeout: 5s

nodes:
  - name: pve1
    address: 192.168.1.11
  - name: pve2
    address: 192.168.1.12
    mac_address: "AA:BB:CC:DD:EE:FF"
    broadcast_ip: 192.168.1.255

pihole:
  base_ip: 10.0.0.50/24
  gateway: 10.0.0.1
  lan_cidr: 10.0.0.0/16
  base_id: 300
  bridge: vmbr1
  storage: local-zfs
  template_storage: nas
  template: nas:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst
  hostname_prefix: dns
  memory_mb: 1024
  swap_mb: 0
  cores: 2
  disk_gb: 8
  unprivileged: false
  web_password: changeme
  probe_target: 9.9.9.9
  health_check: false
  max_parallel: 1
  stagger: 10s
  install_timeout: 30m

host:
  health_schedule: "*/30 * * * *"
  sysctl:
    - vm.swappiness=1
    - net.core.somaxconn = 4096

wol:
  broadcast_ip: 10.0.0.255
  timeout: 10m
  poll_interval: 2s
  stabilize_wait: 1m

telegram:
  bot_token: "123:abc"
  chat_id: "42"

metrics:
  textfile_path: /var/lib/node_exporter/pve_homelab.prom

report:
  path: /var/log/pve-homelab/last-run.yaml
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)
	require.NoError(t, err)

	assert.Equal(t, "rpool/vmdata", cfg.ZFS.Dataset)
	assert.Equal(t, 8*hardware.GiB, cfg.ZFS.ARCMaxBytes)
	assert.Equal(t, 2*hardware.GiB, cfg.ZFS.ARCMinBytes)

	assert.Equal(t, models.SSHConfig{
		Port:     2222,
		Username: "admin",
		KeyPath:  "/home/admin/.ssh/id_ed25519",
		Timeout:  5 * time.Second,
	}, cfg.SSH)

	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, models.NodeConfig{Name: "pve1", Address: "192.168.1.11"}, cfg.Nodes[0])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Nodes[1].MACAddress)
	assert.Equal(t, "192.168.1.255", cfg.Nodes[1].BroadcastIP)

	assert.Equal(t, models.PiholeConfig{
		BaseIP:          "10.0.0.50/24",
		Gateway:         "10.0.0.1",
		LANCIDR:         "10.0.0.0/16",
		BaseID:          300,
		Bridge:          "vmbr1",
		Storage:         "local-zfs",
		TemplateStorage: "nas",
		Template:        "nas:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst",
		HostnamePrefix:  "dns",
		MemoryMB:        1024,
		SwapMB:          0,
		Cores:           2,
		DiskGB:          8,
		Unprivileged:    false,
		WebPassword:     "changeme",
		ProbeTarget:     "9.9.9.9",
		HealthCheck:     false,
		MaxParallel:     1,
		Stagger:         10 * time.Second,
		InstallTimeout:  30 * time.Minute,
	}, cfg.Pihole)

	assert.Equal(t, "*/30 * * * *", cfg.Host.HealthSchedule)
	assert.Equal(t, map[string]string{"vm.swappiness": "1", "net.core.somaxconn": "4096"}, cfg.Host.Sysctl)

	assert.Equal(t, "10.0.0.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, time.Minute, cfg.WOL.StabilizeWait)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	require.NotNil(t, cfg.Metrics)
	assert.Equal(t, "/var/lib/node_exporter/pve_homelab.prom", cfg.Metrics.TextfilePath)
	require.NotNil(t, cfg.Report)
	assert.Equal(t, "/var/log/pve-homelab/last-run.yaml", cfg.Report.Path)

	require.NoError(t, Validate(cfg))
}

func TestParser_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "token-from-env")
	t.Setenv("TEST_PIHOLE_PASSWORD", "pw-from-env")

	yaml := `
pihole:
  web_password: ${TEST_PIHOLE_PASSWORD}
telegram:
  bot_token: ${TEST_BOT_TOKEN}
  chat_id: "42"
`
	cfg, err := NewParser().LoadReader(yaml)
	require.NoError(t, err)

	assert.Equal(t, "pw-from-env", cfg.Pihole.WebPassword)
	assert.Equal(t, "token-from-env", cfg.Telegram.BotToken)
}

func TestParser_InvalidSize(t *testing.T) {
	yaml := `
zfs:
  arc_max: lots
`
	_, err := NewParser().LoadReader(yaml)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zfs.arc_max")
}

func TestParser_InvalidSysctl(t *testing.T) {
	yaml := `
host:
  sysctl:
    - vm.swappiness
`
	_, err := NewParser().LoadReader(yaml)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host.sysctl")
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pihole:\n  base_id: 500\n"), 0o600))

	cfg, err := NewParser().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Pihole.BaseID)
}

func TestParser_LoadFile_Missing(t *testing.T) {
	_, err := NewParser().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParser_LoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pihole.conf")
	content := `# Pi-hole defaults
BASE_IP="192.168.50.10/24"
GATEWAY=192.168.50.1
BASE_CTID=900
CT_MEMORY=768
UNRELATED=ignored
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	parser := NewParser()
	require.NoError(t, parser.LoadDefaults(path))

	// The YAML file still wins over legacy defaults.
	cfg, err := parser.LoadReader("pihole:\n  base_id: 950\n")
	require.NoError(t, err)

	assert.Equal(t, "192.168.50.10/24", cfg.Pihole.BaseIP)
	assert.Equal(t, "192.168.50.1", cfg.Pihole.Gateway)
	assert.Equal(t, 950, cfg.Pihole.BaseID)
	assert.Equal(t, 768, cfg.Pihole.MemoryMB)
}

func TestParser_LoadDefaultsOnly(t *testing.T) {
	cfg, err := NewParser().LoadDefaultsOnly()
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
}

func TestValidate_BaseIPAcceptsHostAddress(t *testing.T) {
	for _, base := range []string{"192.168.1.100/24", "10.0.0.0/8", "172.16.5.250/16"} {
		t.Run(base, func(t *testing.T) {
			cfg, err := NewParser().LoadDefaultsOnly()
			require.NoError(t, err)

			cfg.Pihole.BaseIP = base
			assert.NoError(t, Validate(cfg))
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	require.Error(t, Validate(nil))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *models.Config)
		wantErr string
	}{
		{
			name:    "bad base ip",
			mutate:  func(cfg *models.Config) { cfg.Pihole.BaseIP = "192.168.1.300/24" },
			wantErr: "BaseIP",
		},
		{
			name:    "base ip without prefix",
			mutate:  func(cfg *models.Config) { cfg.Pihole.BaseIP = "192.168.1.100" },
			wantErr: "BaseIP",
		},
		{
			name:    "ipv6 base ip",
			mutate:  func(cfg *models.Config) { cfg.Pihole.BaseIP = "fd00::100/64" },
			wantErr: "BaseIP",
		},
		{
			name:    "lan cidr is a host address",
			mutate:  func(cfg *models.Config) { cfg.Pihole.LANCIDR = "192.168.1.7/24" },
			wantErr: "LANCIDR",
		},
		{
			name:    "reserved container id",
			mutate:  func(cfg *models.Config) { cfg.Pihole.BaseID = 99 },
			wantErr: "BaseID",
		},
		{
			name:    "zero parallelism",
			mutate:  func(cfg *models.Config) { cfg.Pihole.MaxParallel = 0 },
			wantErr: "MaxParallel",
		},
		{
			name: "bad node mac",
			mutate: func(cfg *models.Config) {
				cfg.Nodes = []models.NodeConfig{{Name: "pve1", MACAddress: "not-a-mac"}}
			},
			wantErr: "MACAddress",
		},
		{
			name:    "telegram without token",
			mutate:  func(cfg *models.Config) { cfg.Telegram = &models.TelegramConfig{ChatID: "1"} },
			wantErr: "BotToken",
		},
		{
			name:    "report without path",
			mutate:  func(cfg *models.Config) { cfg.Report = &models.ReportConfig{} },
			wantErr: "Path",
		},
		{
			name: "arc min above max",
			mutate: func(cfg *models.Config) {
				cfg.ZFS.ARCMaxBytes = 2 * hardware.GiB
				cfg.ZFS.ARCMinBytes = 4 * hardware.GiB
			},
			wantErr: "arc_min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewParser().LoadDefaultsOnly()
			require.NoError(t, err)

			tt.mutate(cfg)

			err = Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

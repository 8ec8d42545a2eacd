package installer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor/executortest"
	"github.com/fgeck/pve-homelab/internal/services/proxmox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.PiholeConfig {
	return models.PiholeConfig{
		BaseIP:          "192.168.1.100/24",
		Gateway:         "192.168.1.1",
		BaseID:          200,
		Bridge:          "vmbr0",
		TemplateStorage: "local",
		HostnamePrefix:  "pihole",
		MemoryMB:        512,
		SwapMB:          256,
		Cores:           1,
		DiskGB:          4,
		Unprivileged:    true,
		ProbeTarget:     "1.1.1.1",
		HealthCheck:     true,
		MaxParallel:     2,
	}
}

type mockProber struct {
	mu       sync.Mutex
	calls    int
	pingFunc func(call int) (bool, error)
}

func (m *mockProber) Ping(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.pingFunc != nil {
		return m.pingFunc(call)
	}
	return true, nil
}

// fakeNode answers the commands of a healthy single-node cluster.
// Overrides are matched by command prefix.
func fakeNode(overrides map[string]func() ([]byte, error)) *executortest.Recorder {
	return &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			for prefix, fn := range overrides {
				if strings.HasPrefix(cmd, prefix) {
					return fn()
				}
			}
			switch {
			case cmd == "pct list":
				return []byte("VMID       Status     Lock         Name\n100        running                 unifi\n"), nil
			case strings.HasPrefix(cmd, "pvesh get /cluster/resources"):
				return []byte(`[{"vmid":100,"node":"pve1","type":"lxc"}]`), nil
			case strings.HasPrefix(cmd, "pvesm status"):
				return []byte("Name Type Status Total Used Available %\nlocal-zfs zfspool active 1000 10 990 1%\nbig dir active 5000 0 4000 0%\n"), nil
			case strings.HasPrefix(cmd, "pveam list"):
				return []byte("NAME SIZE\nlocal:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst 120MB\n"), nil
			case strings.Contains(cmd, " -- dig "):
				return []byte("104.18.0.1\n"), nil
			case strings.HasSuffix(cmd, " -- ufw status verbose"):
				return []byte("Status: active\n"), nil
			}
			return nil, nil
		},
	}
}

func newTestInstaller(rec *executortest.Recorder, cfg models.PiholeConfig, prober *mockProber) *Impl {
	svc := New(testLogger(), cfg, proxmox.NewWithExecutor(testLogger(), rec), prober)
	svc.settleDelay = 0
	return svc
}

func testContainer(t *testing.T) models.Container {
	t.Helper()
	ct, err := PlanContainer(testConfig(), models.Node{Name: "pve1"}, 0)
	require.NoError(t, err)
	return ct
}

func stepStatuses(result *models.InstallResult) map[string]models.StepStatus {
	out := make(map[string]models.StepStatus)
	for _, s := range result.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func TestPlanContainer(t *testing.T) {
	cfg := testConfig()
	cfg.WebPassword = "configured"

	ct, err := PlanContainer(cfg, models.Node{Name: "pve2"}, 155)

	require.NoError(t, err)
	assert.Equal(t, 355, ct.ID)
	assert.Equal(t, "192.168.2.1/24", ct.IP)
	assert.Equal(t, "pihole-156", ct.Hostname)
	assert.Equal(t, "pve2", ct.Node)
	assert.Equal(t, "configured", ct.WebPassword)
	assert.NotEmpty(t, ct.RootPassword)
}

func TestPlanContainer_RandomPasswords(t *testing.T) {
	a, err := PlanContainer(testConfig(), models.Node{Name: "pve1"}, 0)
	require.NoError(t, err)
	b, err := PlanContainer(testConfig(), models.Node{Name: "pve1"}, 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.WebPassword, b.WebPassword)
	assert.NotEqual(t, a.RootPassword, a.WebPassword)
}

func TestPlanContainer_Overflow(t *testing.T) {
	_, err := PlanContainer(testConfig(), models.Node{Name: "pve1"}, 500)

	assert.Error(t, err)
}

func TestLANCIDR(t *testing.T) {
	lan, err := LANCIDR(testConfig())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", lan)

	cfg := testConfig()
	cfg.LANCIDR = "10.0.0.0/8"
	lan, err = LANCIDR(cfg)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8", lan)
}

func TestInstall_Success(t *testing.T) {
	rec := fakeNode(nil)
	prober := &mockProber{}
	svc := newTestInstaller(rec, testConfig(), prober)
	ct := testContainer(t)

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, ct)

	require.NoError(t, result.Error)
	assert.Equal(t, models.InstallSuccess, result.Status)
	assert.Equal(t, models.StageDone, result.Stage)
	assert.Len(t, result.Steps, 11)
	for _, s := range result.Steps {
		assert.Equal(t, models.StepSuccess, s.Status, s.Name)
	}

	create := rec.CommandsWithPrefix("pct create")
	require.Len(t, create, 1)
	assert.Contains(t, create[0], "pct create 200 local:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst")
	assert.Contains(t, create[0], "--rootfs big:4")
	assert.Contains(t, create[0], "ip=192.168.1.100/24")
	assert.Len(t, rec.CommandsWithPrefix("pct start 200"), 1)
	assert.Empty(t, rec.CommandsWithPrefix("pveam download"))
	assert.Empty(t, rec.CommandsWithPrefix("pct set"))

	_, ok := rec.File("/tmp/pve-homelab-200-setupVars.conf")
	assert.True(t, ok)
	assert.Len(t, rec.CommandsWithPrefix("pct exec 200 -- ufw allow from 192.168.1.0/24"), 4)
	assert.Len(t, rec.CommandsWithPrefix("pct exec 200 -- ufw status verbose"), 1)
	assert.Equal(t, 1, prober.calls)
}

func TestInstall_PasswordsStayOffCommandLines(t *testing.T) {
	rec := fakeNode(nil)
	svc := newTestInstaller(rec, testConfig(), &mockProber{})
	ct := testContainer(t)

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, ct)

	require.NoError(t, result.Error)
	root, ok := rec.File("/tmp/pve-homelab-200-.pve-homelab-chpasswd")
	require.True(t, ok)
	assert.Equal(t, "root:"+ct.RootPassword+"\n", root)
	web, ok := rec.File("/tmp/pve-homelab-200-.pihole-web-password")
	require.True(t, ok)
	assert.Equal(t, ct.WebPassword+"\n"+ct.WebPassword+"\n", web)
	assert.Len(t, rec.CommandsWithPrefix("pct exec 200 -- bash -c 'chpasswd"), 1)
	for _, cmd := range rec.Commands() {
		assert.NotContains(t, cmd, ct.RootPassword)
		assert.NotContains(t, cmd, ct.WebPassword)
	}
}

func TestInstall_FirewallInactiveFailsSelfTest(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pct exec 200 -- ufw status": func() ([]byte, error) { return []byte("Status: inactive\n"), nil },
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallPartial, result.Status)
	assert.Equal(t, models.StageFirewallConfigured, result.Stage)
	assert.Equal(t, models.StepFailed, stepStatuses(result)["self_test"])
	assert.Contains(t, result.Error.Error(), "firewall not active")
}

func TestInstall_IDCollisionLocal(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pct list": func() ([]byte, error) { return []byte("VMID Status Lock Name\n200 running  old\n"), nil },
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallFailed, result.Status)
	assert.ErrorIs(t, result.Error, ErrIDCollision)
	assert.Equal(t, models.StagePending, result.Stage)
	assert.Empty(t, rec.CommandsWithPrefix("pct create"))
	assert.Len(t, result.Steps, 11)
	assert.Equal(t, models.StepSkipped, stepStatuses(result)["create"])
}

func TestInstall_IDCollisionCluster(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pvesh get /cluster/resources": func() ([]byte, error) {
			return []byte(`[{"vmid":200,"node":"pve3","type":"qemu"}]`), nil
		},
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallFailed, result.Status)
	assert.ErrorIs(t, result.Error, ErrIDCollision)
	assert.Contains(t, result.Error.Error(), "pve3")
}

func TestInstall_ClusterResourcesUnavailable(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pvesh get /cluster/resources": func() ([]byte, error) { return nil, errors.New("no quorum") },
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallSuccess, result.Status)
}

func TestInstall_ConfiguredStorageMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = "ceph"
	svc := newTestInstaller(fakeNode(nil), cfg, &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallFailed, result.Status)
	assert.Contains(t, result.Error.Error(), "storage ceph")
}

func TestInstall_DownloadsTemplate(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pveam list": func() ([]byte, error) { return []byte("NAME SIZE\n"), nil },
		"pveam available": func() ([]byte, error) {
			return []byte("system debian-12-standard_12.2-1_amd64.tar.zst\nsystem debian-12-standard_12.7-1_amd64.tar.zst\n"), nil
		},
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallSuccess, result.Status)
	assert.Equal(t, []string{"pveam download local debian-12-standard_12.7-1_amd64.tar.zst"}, rec.CommandsWithPrefix("pveam download"))
}

func TestInstall_PackagesFailIsFailed(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pct exec 200 -- apt-get update": func() ([]byte, error) {
			return []byte("Temporary failure resolving"), errors.New("exit status 100")
		},
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallFailed, result.Status)
	assert.Equal(t, models.StageCreated, result.Stage)
}

func TestInstall_NetworkRecoversAfterRecreation(t *testing.T) {
	rec := fakeNode(nil)
	prober := &mockProber{pingFunc: func(call int) (bool, error) { return call > 1, nil }}
	svc := newTestInstaller(rec, testConfig(), prober)

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallSuccess, result.Status)
	assert.Equal(t, []string{
		"pct set 200 --net0 name=eth0,bridge=vmbr0,ip=192.168.1.100/24,gw=192.168.1.1,type=veth",
	}, rec.CommandsWithPrefix("pct set"))
	assert.Equal(t, 2, prober.calls)
}

func TestInstall_NetworkFailsTwiceIsPartial(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pct exec 200 -- bash -c 'ping": func() ([]byte, error) {
			return []byte("100% packet loss"), errors.New("exit status 1")
		},
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallPartial, result.Status)
	assert.Equal(t, models.StagePackagesInstalled, result.Stage)
	assert.Len(t, rec.CommandsWithPrefix("pct set 200"), 1)
	assert.Len(t, rec.CommandsWithPrefix("pct exec 200 -- bash -c 'ping"), 2)
	assert.Equal(t, models.StepFailed, stepStatuses(result)["network"])
	assert.Equal(t, models.StepSkipped, stepStatuses(result)["unbound"])
}

func TestInstall_FirewallFailIsPartial(t *testing.T) {
	rec := fakeNode(map[string]func() ([]byte, error){
		"pct exec 200 -- ufw --force enable": func() ([]byte, error) {
			return []byte("ERROR: Couldn't determine iptables version"), errors.New("exit status 1")
		},
	})
	svc := newTestInstaller(rec, testConfig(), &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallPartial, result.Status)
	assert.Equal(t, models.StageAdBlockerInstalled, result.Stage)
	assert.Contains(t, result.Error.Error(), "iptables")
}

func TestInstall_HealthCheckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.HealthCheck = false
	rec := fakeNode(nil)
	svc := newTestInstaller(rec, cfg, &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallSuccess, result.Status)
	assert.Equal(t, models.StepSkipped, stepStatuses(result)["health_check"])
	_, ok := rec.File("/tmp/pve-homelab-200-pihole-health")
	assert.False(t, ok)
}

func TestInstall_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.InstallTimeout = 20 * time.Millisecond
	rec := fakeNode(map[string]func() ([]byte, error){
		"pct create": func() ([]byte, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		},
	})
	svc := newTestInstaller(rec, cfg, &mockProber{})

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallFailed, result.Status)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
}

func TestInstall_WithoutHostProber(t *testing.T) {
	svc := New(testLogger(), testConfig(), proxmox.NewWithExecutor(testLogger(), fakeNode(nil)), nil)
	svc.settleDelay = 0

	result := svc.Install(context.Background(), models.Node{Name: "pve1"}, testContainer(t))

	assert.Equal(t, models.InstallSuccess, result.Status)
}

// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/hardware"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// legacyKeys maps the variables of the shell-sourced config/*.conf files
// onto configuration keys.
var legacyKeys = map[string]string{
	"ZFS_POOL":         "zfs.pool",
	"ZFS_DATASET":      "zfs.dataset",
	"ARC_MAX":          "zfs.arc_max",
	"ARC_MIN":          "zfs.arc_min",
	"SSH_USER":         "ssh.username",
	"SSH_PORT":         "ssh.port",
	"SSH_KEY":          "ssh.key_path",
	"BASE_IP":          "pihole.base_ip",
	"GATEWAY":          "pihole.gateway",
	"LAN_CIDR":         "pihole.lan_cidr",
	"BASE_CTID":        "pihole.base_id",
	"BRIDGE":           "pihole.bridge",
	"STORAGE":          "pihole.storage",
	"TEMPLATE_STORAGE": "pihole.template_storage",
	"TEMPLATE":         "pihole.template",
	"HOSTNAME_PREFIX":  "pihole.hostname_prefix",
	"CT_MEMORY":        "pihole.memory_mb",
	"CT_SWAP":          "pihole.swap_mb",
	"CT_CORES":         "pihole.cores",
	"CT_DISK":          "pihole.disk_gb",
	"PIHOLE_PASSWORD":  "pihole.web_password",
	"MAX_PARALLEL":     "pihole.max_parallel",
	"HEALTH_SCHEDULE":  "host.health_schedule",
	"BROADCAST_IP":     "wol.broadcast_ip",
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with every default set.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return &Parser{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zfs.dataset", "rpool/data")

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.username", "root")
	v.SetDefault("ssh.key_path", "/root/.ssh/id_rsa")
	v.SetDefault("ssh.timeout", 10*time.Second)

	v.SetDefault("pihole.base_ip", "192.168.1.100/24")
	v.SetDefault("pihole.gateway", "192.168.1.1")
	v.SetDefault("pihole.base_id", 200)
	v.SetDefault("pihole.bridge", "vmbr0")
	v.SetDefault("pihole.template_storage", "local")
	v.SetDefault("pihole.hostname_prefix", "pihole")
	v.SetDefault("pihole.memory_mb", 512)
	v.SetDefault("pihole.swap_mb", 512)
	v.SetDefault("pihole.cores", 1)
	v.SetDefault("pihole.disk_gb", 4)
	v.SetDefault("pihole.unprivileged", true)
	v.SetDefault("pihole.probe_target", "1.1.1.1")
	v.SetDefault("pihole.health_check", true)
	v.SetDefault("pihole.max_parallel", 3)
	v.SetDefault("pihole.stagger", 2*time.Second)

	v.SetDefault("host.health_schedule", "0 * * * *")

	v.SetDefault("wol.broadcast_ip", "255.255.255.255")
	v.SetDefault("wol.timeout", 5*time.Minute)
	v.SetDefault("wol.poll_interval", 5*time.Second)
	v.SetDefault("wol.stabilize_wait", 30*time.Second)
}

// LoadDefaults reads a legacy KEY=value defaults file and applies the
// known keys as defaults. Unknown keys are ignored.
func (p *Parser) LoadDefaults(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("reading defaults file: %w", err)
	}

	for name, value := range env {
		if key, ok := legacyKeys[name]; ok {
			p.v.SetDefault(key, value)
		}
	}
	return nil
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaultsOnly builds the configuration without a file.
func (p *Parser) LoadDefaultsOnly() (*models.Config, error) {
	return p.parse()
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	arcMax, err := p.size("zfs.arc_max")
	if err != nil {
		return nil, err
	}
	arcMin, err := p.size("zfs.arc_min")
	if err != nil {
		return nil, err
	}
	cfg.ZFS = models.ZFSConfig{
		Pool:        p.v.GetString("zfs.pool"),
		Dataset:     p.v.GetString("zfs.dataset"),
		ARCMaxBytes: arcMax,
		ARCMinBytes: arcMin,
	}

	cfg.SSH = models.SSHConfig{
		Port:     p.v.GetInt("ssh.port"),
		Username: p.v.GetString("ssh.username"),
		KeyPath:  p.expandEnv(p.v.GetString("ssh.key_path")),
		Timeout:  p.v.GetDuration("ssh.timeout"),
	}

	if err := p.v.UnmarshalKey("nodes", &cfg.Nodes); err != nil {
		return nil, fmt.Errorf("parsing nodes: %w", err)
	}

	cfg.Pihole = models.PiholeConfig{
		BaseIP:          p.v.GetString("pihole.base_ip"),
		Gateway:         p.v.GetString("pihole.gateway"),
		LANCIDR:         p.v.GetString("pihole.lan_cidr"),
		BaseID:          p.v.GetInt("pihole.base_id"),
		Bridge:          p.v.GetString("pihole.bridge"),
		Storage:         p.v.GetString("pihole.storage"),
		TemplateStorage: p.v.GetString("pihole.template_storage"),
		Template:        p.v.GetString("pihole.template"),
		HostnamePrefix:  p.v.GetString("pihole.hostname_prefix"),
		MemoryMB:        p.v.GetInt("pihole.memory_mb"),
		SwapMB:          p.v.GetInt("pihole.swap_mb"),
		Cores:           p.v.GetInt("pihole.cores"),
		DiskGB:          p.v.GetInt("pihole.disk_gb"),
		Unprivileged:    p.v.GetBool("pihole.unprivileged"),
		WebPassword:     p.expandEnv(p.v.GetString("pihole.web_password")),
		ProbeTarget:     p.v.GetString("pihole.probe_target"),
		HealthCheck:     p.v.GetBool("pihole.health_check"),
		MaxParallel:     p.v.GetInt("pihole.max_parallel"),
		Stagger:         p.v.GetDuration("pihole.stagger"),
		InstallTimeout:  p.v.GetDuration("pihole.install_timeout"),
	}

	sysctl, err := parseSysctl(p.v.GetStringSlice("host.sysctl"))
	if err != nil {
		return nil, err
	}
	cfg.Host = models.HostConfig{
		Sysctl:         sysctl,
		HealthSchedule: p.v.GetString("host.health_schedule"),
	}

	cfg.WOL = models.WOLSettings{
		BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
		Timeout:       p.v.GetDuration("wol.timeout"),
		PollInterval:  p.v.GetDuration("wol.poll_interval"),
		StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
	}

	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}
	}

	if p.v.IsSet("metrics") {
		cfg.Metrics = &models.MetricsConfig{
			TextfilePath: p.v.GetString("metrics.textfile_path"),
		}
	}

	if p.v.IsSet("report") {
		cfg.Report = &models.ReportConfig{
			Path: p.v.GetString("report.path"),
		}
	}

	return cfg, nil
}

// parseSysctl reads "key=value" entries. Keys contain dots, so they are
// kept out of the viper key space.
func parseSysctl(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("host.sysctl: invalid entry %q, want key=value", e)
		}
		out[key] = value
	}
	return out, nil
}

// size reads a byte size such as "8G". Unset keys are 0.
func (p *Parser) size(key string) (uint64, error) {
	raw := p.v.GetString(key)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	n, err := hardware.ParseSize(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// cidrv4 only accepts network addresses; container addresses are hosts.
	_ = v.RegisterValidation("hostcidr4", func(fl validator.FieldLevel) bool {
		prefix, err := netip.ParsePrefix(fl.Field().String())
		return err == nil && prefix.Addr().Is4()
	})
	return v
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	if cfg.ZFS.ARCMaxBytes > 0 && cfg.ZFS.ARCMinBytes >= cfg.ZFS.ARCMaxBytes {
		return fmt.Errorf("zfs.arc_min must be below zfs.arc_max")
	}

	return nil
}

// Package models contains the data structures used throughout pve-homelab.
package models

import "time"

// Config holds the complete configuration for a pve-homelab invocation.
type Config struct {
	ZFS      ZFSConfig
	SSH      SSHConfig
	Nodes    []NodeConfig `validate:"dive"`
	Pihole   PiholeConfig
	Host     HostConfig
	WOL      WOLSettings
	Telegram *TelegramConfig // nil if not configured
	Metrics  *MetricsConfig  // nil if not configured
	Report   *ReportConfig   // nil if not configured
}

// ZFSConfig holds the dataset targeted by the property configurator and ARC overrides.
type ZFSConfig struct {
	Pool        string
	Dataset     string `validate:"required"`
	ARCMaxBytes uint64 // 0 means derive from hardware
	ARCMinBytes uint64 // 0 means derive from ARCMaxBytes
}

// NodeConfig holds per-node overrides for cluster members.
type NodeConfig struct {
	Name        string `mapstructure:"name"         validate:"required,hostname"`
	Address     string `mapstructure:"address"      validate:"omitempty,ip|hostname"`
	MACAddress  string `mapstructure:"mac_address"  validate:"omitempty,mac"`
	BroadcastIP string `mapstructure:"broadcast_ip" validate:"omitempty,ipv4"`
}

// PiholeConfig holds the Pi-hole/Unbound container settings.
type PiholeConfig struct {
	BaseIP          string `validate:"required,hostcidr4"` // first container address, e.g. 192.168.1.100/24
	Gateway         string `validate:"required,ipv4"`
	LANCIDR         string `validate:"omitempty,cidrv4"` // allowed to query DNS; derived from BaseIP if empty
	BaseID          int    `validate:"gte=100"`
	Bridge          string `validate:"required"`
	Storage         string // empty selects the first active rootdir storage
	TemplateStorage string `validate:"required"`
	Template        string // empty selects the newest Debian 12 template
	HostnamePrefix  string `validate:"required,hostname"`
	MemoryMB        int    `validate:"gte=128"`
	SwapMB          int    `validate:"gte=0"`
	Cores           int    `validate:"gte=1"`
	DiskGB          int    `validate:"gte=2"`
	Unprivileged    bool
	WebPassword     string // empty generates a random password per container
	ProbeTarget     string `validate:"required,ip"`
	HealthCheck     bool
	MaxParallel     int `validate:"gte=1"`
	Stagger         time.Duration
	InstallTimeout  time.Duration // 0 means unbounded
}

// HostConfig holds Proxmox post-install tuning settings.
type HostConfig struct {
	Sysctl         map[string]string // merged over the built-in tuning keys, from "key=value" entries
	HealthSchedule string            `validate:"required"` // cron schedule for the ZFS health check
}

// WOLSettings holds Wake-on-LAN defaults applied to every node with a MAC address.
type WOLSettings struct {
	BroadcastIP   string `validate:"required,ipv4"`
	Timeout       time.Duration
	PollInterval  time.Duration
	StabilizeWait time.Duration
}

// MetricsConfig holds Prometheus textfile export settings.
type MetricsConfig struct {
	TextfilePath string `validate:"required"`
}

// ReportConfig holds YAML run report settings.
type ReportConfig struct {
	Path string `validate:"required"`
}

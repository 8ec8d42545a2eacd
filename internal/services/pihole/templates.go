package pihole

import (
	"bytes"
	"text/template"
)

// Paths of the files written inside the container.
const (
	SetupVarsPath    = "/etc/pihole/setupVars.conf"
	UnboundConfPath  = "/etc/unbound/unbound.conf.d/pi-hole.conf"
	HealthScriptPath = "/usr/local/bin/pihole-health.sh"
	HealthCronPath   = "/etc/cron.d/pihole-health"
	// WebPasswordPath holds the web password answers while it is set.
	WebPasswordPath = "/root/.pihole-web-password"
)

const (
	// UnboundPort is where Unbound listens on localhost.
	UnboundPort = 5335
	// DefaultInterface is the container interface Pi-hole binds to.
	DefaultInterface = "eth0"
	// HealthCheckDomain is the name resolved by self-tests and the health script.
	HealthCheckDomain = "pi-hole.net"
)

// SetupVars are the answers the Pi-hole installer reads in unattended mode.
type SetupVars struct {
	Interface   string
	IPv4Address string // CIDR form
	QueryLog    bool
}

var setupVarsTmpl = template.Must(template.New("setupVars").Parse(`PIHOLE_INTERFACE={{ .Interface }}
IPV4_ADDRESS={{ .IPv4Address }}
IPV6_ADDRESS=
PIHOLE_DNS_1=127.0.0.1#{{ .Port }}
PIHOLE_DNS_2=
QUERY_LOGGING={{ .QueryLog }}
INSTALL_WEB_SERVER=true
INSTALL_WEB_INTERFACE=true
LIGHTTPD_ENABLED=true
CACHE_SIZE=10000
DNS_FQDN_REQUIRED=true
DNS_BOGUS_PRIV=true
DNSMASQ_LISTENING=local
BLOCKING_ENABLED=true
WEBPASSWORD=
`))

// RenderSetupVars renders setupVars.conf with Unbound as the only upstream.
func RenderSetupVars(vars SetupVars) ([]byte, error) {
	if vars.Interface == "" {
		vars.Interface = DefaultInterface
	}

	var buf bytes.Buffer
	err := setupVarsTmpl.Execute(&buf, struct {
		SetupVars
		Port int
	}{vars, UnboundPort})
	return buf.Bytes(), err
}

// UnboundConf is the recursive resolver configuration listening on
// localhost:5335 for Pi-hole.
var UnboundConf = []byte(`server:
    verbosity: 0

    interface: 127.0.0.1
    port: 5335
    do-ip4: yes
    do-udp: yes
    do-tcp: yes
    do-ip6: no
    prefer-ip6: no

    harden-glue: yes
    harden-dnssec-stripped: yes
    use-caps-for-id: no
    edns-buffer-size: 1232
    prefetch: yes
    num-threads: 1
    so-rcvbuf: 1m

    private-address: 192.168.0.0/16
    private-address: 169.254.0.0/16
    private-address: 172.16.0.0/12
    private-address: 10.0.0.0/8
    private-address: fd00::/8
    private-address: fe80::/10
`)

// HealthScript restarts Unbound or Pi-hole FTL when they stop answering.
var HealthScript = []byte(`#!/bin/bash
set -u

if ! dig @127.0.0.1 -p 5335 pi-hole.net +short +time=3 +tries=1 | grep -q .; then
    logger -t pihole-health "unbound not answering, restarting"
    systemctl restart unbound
fi

if ! dig @127.0.0.1 pi-hole.net +short +time=3 +tries=1 | grep -q .; then
    logger -t pihole-health "pihole-FTL not answering, restarting"
    systemctl restart pihole-FTL
fi
`)

// HealthCron runs HealthScript every five minutes.
var HealthCron = []byte("*/5 * * * * root " + HealthScriptPath + "\n")

package models

// Node describes a Proxmox cluster member.
type Node struct {
	Name       string
	Address    string
	ID         int
	Local      bool // the node this process runs on
	Online     bool // as reported by cluster membership
	Reachable  bool // inferred from an SSH probe, always true for the local node
	MACAddress string
}

// Container describes a Pi-hole LXC container to be created on a node.
type Container struct {
	ID           int
	IP           string // CIDR, e.g. 192.168.1.100/24
	Gateway      string
	Hostname     string
	Node         string
	RootPassword string
	WebPassword  string
}

// Storage describes a Proxmox storage as reported by pvesm status.
type Storage struct {
	Name      string
	Type      string
	Active    bool
	Total     uint64
	Available uint64
}

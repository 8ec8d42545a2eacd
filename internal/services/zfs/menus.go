package zfs

// Option maps one numbered menu entry to a literal property value.
type Option struct {
	Label string
	Value string
}

// Menu offers fixed values for a single property.
type Menu struct {
	Property string
	Title    string
	Options  []Option
}

// Flow is an ordered list of menus presented one after another.
type Flow struct {
	Name  string
	Title string
	Menus []Menu
}

// Menu choices are 1-based; the order below is part of the operator interface.
var (
	RecordsizeMenu = Menu{
		Property: "recordsize",
		Title:    "Record size (file data block size)",
		Options: []Option{
			{"16K - databases, small random I/O", "16K"},
			{"32K - mixed small files", "32K"},
			{"64K - VM images and general purpose", "64K"},
			{"128K - ZFS default", "128K"},
			{"1M - media and backups", "1M"},
		},
	}

	CompressionMenu = Menu{
		Property: "compression",
		Title:    "Compression",
		Options: []Option{
			{"lz4 - fast, low CPU", "lz4"},
			{"zstd - zstd default level", "zstd"},
			{"zstd-1 - fastest zstd", "zstd-1"},
			{"zstd-3 - balanced", "zstd-3"},
			{"zstd-9 - high ratio, high CPU", "zstd-9"},
			{"off", "off"},
		},
	}

	VolblocksizeMenu = Menu{
		Property: "volblocksize",
		Title:    "Volume block size (zvol-backed disks)",
		Options: []Option{
			{"4K - databases", "4K"},
			{"8K - OLTP workloads", "8K"},
			{"16K - Proxmox default", "16K"},
			{"64K - sequential workloads", "64K"},
			{"32K - mixed VM workloads", "32K"},
		},
	}

	AtimeMenu = Menu{
		Property: "atime",
		Title:    "Access time updates",
		Options: []Option{
			{"off - no access time writes", "off"},
			{"on", "on"},
		},
	}

	SyncMenu = Menu{
		Property: "sync",
		Title:    "Synchronous writes",
		Options: []Option{
			{"standard - honor fsync", "standard"},
			{"always - every write is synchronous", "always"},
			{"disabled - unsafe on power loss", "disabled"},
		},
	}

	LogbiasMenu = Menu{
		Property: "logbias",
		Title:    "ZIL log bias",
		Options: []Option{
			{"latency", "latency"},
			{"throughput", "throughput"},
		},
	}

	XattrMenu = Menu{
		Property: "xattr",
		Title:    "Extended attributes",
		Options: []Option{
			{"sa - store in inode", "sa"},
			{"on - directory based", "on"},
			{"off", "off"},
		},
	}

	DnodesizeMenu = Menu{
		Property: "dnodesize",
		Title:    "Dnode size",
		Options: []Option{
			{"auto", "auto"},
			{"legacy", "legacy"},
		},
	}

	PrimarycacheMenu = Menu{
		Property: "primarycache",
		Title:    "ARC caching",
		Options: []Option{
			{"all - data and metadata", "all"},
			{"metadata - metadata only", "metadata"},
			{"none", "none"},
		},
	}
)

// CoreFlow tunes the properties with the largest performance impact.
var CoreFlow = Flow{
	Name:  "core",
	Title: "Core performance",
	Menus: []Menu{RecordsizeMenu, CompressionMenu, VolblocksizeMenu, AtimeMenu},
}

// AdvancedFlow tunes caching and write-path properties.
var AdvancedFlow = Flow{
	Name:  "advanced",
	Title: "Advanced",
	Menus: []Menu{SyncMenu, LogbiasMenu, XattrMenu, DnodesizeMenu, PrimarycacheMenu},
}

// AllFlow runs every menu.
var AllFlow = Flow{
	Name:  "all",
	Title: "All properties",
	Menus: append(append([]Menu{}, CoreFlow.Menus...), AdvancedFlow.Menus...),
}

// Flows returns the flows in main menu order.
func Flows() []Flow {
	return []Flow{CoreFlow, AdvancedFlow, AllFlow}
}

// FlowByName returns the named flow.
func FlowByName(name string) (Flow, bool) {
	for _, f := range Flows() {
		if f.Name == name {
			return f, true
		}
	}
	return Flow{}, false
}

package models

// Pool describes a ZFS pool as reported by zpool list.
type Pool struct {
	Name   string
	Size   uint64
	Alloc  uint64
	Free   uint64
	Health string
}

// Dataset describes a ZFS filesystem or volume.
type Dataset struct {
	Name       string
	Type       string // "filesystem" or "volume"
	Used       uint64
	Avail      uint64
	Mountpoint string
}

// Property is a single ZFS property value with its source.
type Property struct {
	Name   string
	Value  string
	Source string
}

// PropertyStatus is the outcome of a property set.
type PropertyStatus string

// Property set outcomes.
const (
	PropertyApplied   PropertyStatus = "applied"
	PropertySkipped   PropertyStatus = "skipped"
	PropertyUnchanged PropertyStatus = "unchanged"
	PropertyFailed    PropertyStatus = "failed"
)

// PropertyResult holds the result of setting one ZFS property.
type PropertyResult struct {
	Dataset  string
	Property string
	Value    string
	Status   PropertyStatus
	Output   string
	Error    error
}

package models

// HardwareProfile describes the host as detected at startup.
type HardwareProfile struct {
	TotalMemory uint64
	CPUModel    string
	Cores       int
	LowPower    bool // Intel N-series class CPU
	RootOnZFS   bool
}

// ARCSettings holds ZFS ARC limits in bytes.
type ARCSettings struct {
	MaxBytes uint64
	MinBytes uint64
}

package models

import "time"

// WOLConfig describes waking one node.
type WOLConfig struct {
	Node          string
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // polled until the node answers; empty skips waiting
	Timeout       time.Duration // max time to wait for the node
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the node answers
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

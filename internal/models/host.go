package models

// ItemStatus is the outcome of one post-install tuning item.
type ItemStatus string

// Tuning item outcomes.
const (
	ItemApplied ItemStatus = "applied"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// HostItemResult holds the result of one post-install tuning item.
type HostItemResult struct {
	Item    string
	Status  ItemStatus
	Changed bool // a file on disk was modified
	Output  string
	Error   error
}

package domain

// SyncState is owned exclusively by the Stream Controller. LastBlock is
// updated only after a batch's trades and evidence are durably committed.
type SyncState struct {
	LastBlock int64
}

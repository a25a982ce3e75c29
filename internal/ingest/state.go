package ingest

// State is the mutable ingestion state. It is owned by the Coordinator and
// only mutated under its lock; Snapshot hands out copies.
type State struct {
	// LastKnownBlock is the highest block observed or scanned. Never regresses.
	LastKnownBlock uint64
	// Connected is true while the push subscription is healthy.
	Connected bool
	// OutageStartBlock is 0 when no outage is in progress.
	OutageStartBlock uint64
	// ReconnectAttempts counts retries since the last successful connect.
	ReconnectAttempts int
}

// advance moves the watermark forward to block. Lower values are ignored.
func (s *State) advance(block uint64) bool {
	if block <= s.LastKnownBlock {
		return false
	}
	s.LastKnownBlock = block
	return true
}

// InOutage reports whether an outage start has been recorded.
func (s State) InOutage() bool {
	return s.OutageStartBlock > 0
}

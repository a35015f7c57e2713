package memory

import "time"

// Timestamps are stored as INTEGER unix microseconds so that range
// comparisons in SQL are numeric.

// TimeToColumn converts t to its stored representation.
func TimeToColumn(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// TimeFromColumn converts a stored timestamp back to UTC time.
func TimeFromColumn(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

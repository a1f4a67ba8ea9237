package domain

import "time"

// UsageLog records what one job cost and saved. BytesSaved is negative when
// the outputs together outweigh the source.
type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

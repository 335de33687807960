package date

import (
	"time"
)

type Now func() time.Time

// NowGMT equals time.Now().UTC().
func NowGMT() time.Time {
	return time.Now().UTC()
}

// EpochMillis returns t as milliseconds since the Unix epoch, the unit used
// for lastDownload in the revocation metadata.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

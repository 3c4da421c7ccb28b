package capture

import "time"

// DefaultRetentionDays is the age after which captures are purged.
const DefaultRetentionDays = 60

// ShouldPurge reports whether c is strictly older than thresholdDays at now.
// Age counts from RecordedAt. Linked captures are purged the same as pending ones.
// A non-positive threshold disables purging.
func ShouldPurge(c Capture, now time.Time, thresholdDays int) bool {
	if thresholdDays <= 0 {
		return false
	}
	maxAge := time.Duration(thresholdDays) * 24 * time.Hour
	return now.Sub(c.RecordedAt) > maxAge
}

package operations

import (
	"fmt"

	"github.com/habedi/docvault/client"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with a binary unit, e.g. "1.5 MB".
func FormatSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	v := float64(bytes)
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}

// StorageSummary describes how much of the quota a user has used.
func StorageSummary(u *client.User) string {
	if u == nil {
		return ""
	}
	if u.StorageQuota <= 0 {
		return fmt.Sprintf("%s used", FormatSize(u.StorageUsed))
	}
	pct := float64(u.StorageUsed) / float64(u.StorageQuota) * 100
	return fmt.Sprintf("%s of %s used (%.0f%%)", FormatSize(u.StorageUsed), FormatSize(u.StorageQuota), pct)
}

package blobstore

import (
	"fmt"
	"strings"
)

// ProcessedKey is the deterministic location of a message's canonical copy.
func ProcessedKey(partitionDate, messageID string) string {
	return fmt.Sprintf("processed/%s/%s.eml", partitionDate, messageID)
}

// ManifestKey is the location of the per-day manifest document. The partition
// date must be in YYYY-MM-DD form.
func ManifestKey(partitionDate string) string {
	parts := strings.SplitN(partitionDate, "-", 3)
	if len(parts) != 3 {
		return fmt.Sprintf("manifest/%s/manifest.json", partitionDate)
	}
	return fmt.Sprintf("manifest/%s/%s/%s/manifest.json", parts[0], parts[1], parts[2])
}

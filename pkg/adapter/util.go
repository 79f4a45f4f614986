package adapter

import (
	"fmt"
	"strings"
)

// URLToFilename converts a "file://" URL to a filesystem path, mirroring
// eva.url_to_filename. Any other scheme is rejected (spec.md §8 boundary
// behavior).
func URLToFilename(rawURL string) (string, error) {
	const prefix = "file://"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", fmt.Errorf("adapter: %q is not a file:// url", rawURL)
	}
	return strings.TrimPrefix(rawURL, prefix), nil
}

package utils

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// GetUUID returns a new random identifier.
func GetUUID() string {
	return uuid.NewString()
}

// --- Slice Helpers ---

func Contains(slice []string, value string) bool {
	return slices.Contains(slice, value)
}

var unsafeFilename = regexp.MustCompile(`[^\w.\-]`)

func SanitizeFilename(name string) string {
	clean := unsafeFilename.ReplaceAllString(filepath.Base(name), "_")
	if clean == "" || clean == "." {
		return "file"
	}
	return clean
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

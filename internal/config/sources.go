package config

import "strings"

// Recognized source tags. The set is closed: adding a platform means adding
// a constant here and a verification case in internal/verify.
const (
	// SourcePlanningCenter is the calendar/CRM platform (Planning Center).
	SourcePlanningCenter = "planningcenter"

	// SourceCloudflare is the media platform (Cloudflare Stream).
	SourceCloudflare = "cloudflare"
)

// KnownSource reports whether tag names a recognized webhook source.
// Comparison is case-insensitive; callers should lowercase on entry.
func KnownSource(tag string) bool {
	switch strings.ToLower(tag) {
	case SourcePlanningCenter, SourceCloudflare:
		return true
	}
	return false
}

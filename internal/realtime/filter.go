package realtime

import (
	"slices"
	"strings"

	"github.com/firstgrade/hms/internal/events"
)

// Filter narrows what a client receives. Empty lists match everything the
// client is allowed to see.
type Filter struct {
	TenantIDs []string `json:"tenantIds,omitempty"`
	// Subjects are exact subjects or prefixes ending in ".>".
	Subjects []string `json:"subjects,omitempty"`
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev *events.Event) bool {
	if len(f.TenantIDs) > 0 && !slices.Contains(f.TenantIDs, ev.TenantID) {
		return false
	}
	if len(f.Subjects) == 0 {
		return true
	}
	return slices.ContainsFunc(f.Subjects, func(p string) bool {
		return subjectMatches(p, ev.Subject)
	})
}

func subjectMatches(pattern, subject string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ">"); ok {
		return strings.HasPrefix(subject, prefix)
	}
	return pattern == subject
}

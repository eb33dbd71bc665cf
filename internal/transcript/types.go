// Package transcript keeps a running transcript of each live call so it
// can be attached to the call log when the call finishes.
package transcript

import (
	"fmt"
	"strings"
)

// Roles used in transcript entries.
const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// Entry is one line of a call transcript.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Format renders entries as "Caller: ..." / "Agent: ..." lines.
func Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", label(e.Role), e.Content)
	}
	return b.String()
}

func label(role string) string {
	switch role {
	case RoleCaller:
		return "Caller"
	case RoleAgent:
		return "Agent"
	}
	return role
}

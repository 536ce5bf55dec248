package security

import (
	"github.com/rs/zerolog"
)

// Event is a single security-relevant occurrence. Zero-valued fields are
// omitted from the log line.
type Event struct {
	Type        string
	UserID      string
	ClientID    string
	WorkspaceID string
	TokenID     string
	IP          string
	Details     map[string]any
}

// Auditor writes structured security events through zerolog. It is safe for
// concurrent use.
type Auditor struct {
	logger  zerolog.Logger
	enabled bool
}

func NewAuditor(logger zerolog.Logger, enabled bool) *Auditor {
	return &Auditor{logger: logger, enabled: enabled}
}

// LogEvent emits the event at info level under the "audit" component.
func (a *Auditor) LogEvent(ev Event) {
	if a == nil || !a.enabled {
		return
	}
	entry := a.logger.Info().
		Str("component", "audit").
		Str("event", ev.Type)
	if ev.UserID != "" {
		entry = entry.Str("user_id", ev.UserID)
	}
	if ev.ClientID != "" {
		entry = entry.Str("client_id", ev.ClientID)
	}
	if ev.WorkspaceID != "" {
		entry = entry.Str("workspace_id", ev.WorkspaceID)
	}
	if ev.TokenID != "" {
		entry = entry.Str("token_id", ev.TokenID)
	}
	if ev.IP != "" {
		entry = entry.Str("ip", ev.IP)
	}
	for key, value := range ev.Details {
		entry = entry.Interface(key, value)
	}
	entry.Msg("security event")
}

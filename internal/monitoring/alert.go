package monitoring

import (
	"github.com/rs/zerolog/log"
)

// SecurityAlert reports a security-relevant event (logs for now)
func SecurityAlert(message string, labels map[string]string) {
	ev := log.Error().Str("alert", message)
	for k, v := range labels {
		ev = ev.Str(k, v)
	}
	ev.Msg("ALERT: Security event detected")
}

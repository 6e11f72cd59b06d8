package outbox

import (
	"time"
)

const (
	defaultPollingInterval time.Duration = time.Second * 3
	defaultBatchLimit      int           = 100
)

// Settings holds the general module configuration.
type Settings struct {
	EnableRelay     bool          // enables the background polling relay
	PollingInterval time.Duration // interval between database pollings, independent of cycle duration
	BatchLimit      int           // maximum number of pending events fetched per cycle
}

// validateSettings validates the established settings and sets defaults if needed.
func validateSettings(s *Settings) {
	if s.EnableRelay {
		if s.PollingInterval <= 0 {
			s.PollingInterval = defaultPollingInterval
		}
		if s.BatchLimit <= 0 {
			s.BatchLimit = defaultBatchLimit
		}
	}
}

package endpoints

import (
	"github.com/jackzampolin/pagecam/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// DeviceGlob overrides camera enumeration (tests).
	DeviceGlob string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		&HealthEndpoint{},
		&SourcesEndpoint{DeviceGlob: cfg.DeviceGlob},

		// Session endpoints
		&StartSessionEndpoint{},
		&ListSessionsEndpoint{},
		&GetSessionEndpoint{},
		&StopSessionEndpoint{},
		&CloseSessionEndpoint{},
		&SetROIEndpoint{},
		&PreviewEndpoint{},
		&RegionEndpoint{},
		&FinalizeEndpoint{},
		&DocumentEndpoint{},
	}
}

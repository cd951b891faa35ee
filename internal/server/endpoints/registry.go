package endpoints

import (
	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DefraManager *defra.DockerManager
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},

		// Project endpoints
		&UploadProjectEndpoint{},
		&ListProjectsEndpoint{},
		&GetProjectEndpoint{},
		&DeleteProjectEndpoint{},
		&ExportEndpoint{},

		// Book endpoints
		&GetBookEndpoint{},
		&GetChapterEndpoint{},
		&USFMEndpoint{},

		// Walk endpoints
		&TranscribeEndpoint{},
		&SynthesizeEndpoint{},
		&RetryEndpoint{},
		&ListWalksEndpoint{},
		&NotificationsEndpoint{},

		// Verse endpoints
		&EditVerseEndpoint{},
		&ChapterApprovalEndpoint{},
	}
}

// ProjectCommands returns endpoints grouped under "projects".
func ProjectCommands() []api.Endpoint {
	return []api.Endpoint{
		&UploadProjectEndpoint{},
		&ListProjectsEndpoint{},
		&GetProjectEndpoint{},
		&DeleteProjectEndpoint{},
		&ExportEndpoint{},
		&ListWalksEndpoint{},
		&NotificationsEndpoint{},
	}
}

// BookCommands returns endpoints grouped under "books".
func BookCommands() []api.Endpoint {
	return []api.Endpoint{
		&GetBookEndpoint{},
		&GetChapterEndpoint{},
		&USFMEndpoint{},
		&TranscribeEndpoint{},
		&SynthesizeEndpoint{},
		&RetryEndpoint{},
	}
}

// VerseCommands returns endpoints grouped under "verses".
func VerseCommands() []api.Endpoint {
	return []api.Endpoint{
		&EditVerseEndpoint{},
		&ChapterApprovalEndpoint{},
	}
}

// Package docs holds the general API info for OpenAPI generation. The
// handler annotations live on the endpoint handlers.
//
// Scribe API
//
//	@title			Scribe API
//	@version		1.0
//	@description	Verse-by-verse transcription and synthesis of recorded scripture projects.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/scribe
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/scribe/serve.go -o ./swagger --parseDependency --parseInternal

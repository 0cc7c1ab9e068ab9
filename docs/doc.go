// Package docs provides generated OpenAPI documentation.
//
// Pagecam API
//
//	@title			Pagecam API
//	@version		1.0
//	@description	Camera page scanner: start sessions, preview detection and download assembled PDFs.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate go run github.com/swaggo/swag/cmd/swag@v1.16.6 init -g ../cmd/pagecam/serve.go -o ./swagger --parseDependency --parseInternal

//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"
	httpSwagger "github.com/swaggo/http-swagger"
)

const swaggerDoc = `{
  "swagger": "2.0",
  "info": {"title": "servectl status API", "version": "1.0",
    "description": "Status endpoint of the servectl launcher."},
  "basePath": "/",
  "paths": {
    "/healthz": {"get": {"tags": ["status"], "summary": "Liveness probe", "produces": ["text/plain"],
      "responses": {"200": {"description": "ok"}}}},
    "/readyz": {"get": {"tags": ["status"], "summary": "Readiness probe (engine running)", "produces": ["text/plain"],
      "responses": {"200": {"description": "ready"}, "503": {"description": "not running"}}}},
    "/status": {"get": {"tags": ["status"], "summary": "Supervisor status", "produces": ["application/json"],
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}},
    "/profiles": {"get": {"tags": ["profiles"], "summary": "Registered launch profiles", "produces": ["application/json"],
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProfilesResponse"}}}}}
  },
  "definitions": {
    "types.Profile": {"type": "object", "properties": {
      "key": {"type": "string"}, "model_id": {"type": "string"}, "display_name": {"type": "string"},
      "context_length": {"type": "integer"}, "max_concurrent_requests": {"type": "integer"},
      "memory_fraction": {"type": "number"}, "tool_parser": {"type": "string"},
      "extra_flags": {"type": "array", "items": {"type": "string"}}}},
    "types.ProfilesResponse": {"type": "object", "properties": {
      "profiles": {"type": "array", "items": {"$ref": "#/definitions/types.Profile"}}}},
    "types.StatusResponse": {"type": "object", "properties": {
      "state": {"type": "string"}, "profile": {"type": "string"}, "model_id": {"type": "string"},
      "run_id": {"type": "string"}, "pid": {"type": "integer"}, "port": {"type": "integer"},
      "invocation": {"type": "array", "items": {"type": "string"}}, "exit_code": {"type": "integer"},
      "last_error": {"type": "string"}, "uptime_seconds": {"type": "integer"},
      "server_time_unix": {"type": "integer"}, "accelerator_free_mib": {"type": "integer"}}}
  }
}`

type swaggerSpec struct{}

func (swaggerSpec) ReadDoc() string { return swaggerDoc }

func init() { swag.Register(swag.Name, swaggerSpec{}) }

// MountSwagger serves the swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

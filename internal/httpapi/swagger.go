//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// swaggerInfo holds the admin API document. Regenerate with `swag init -g cmd/botd/docs.go`
// when the handler annotations change.
var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "botd API",
	Description:      "Resident text-generation daemon: generation on any GET path, operator endpoints on the admin listener.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}

// MountSwagger serves the UI and doc.json under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "description": "Returns the longest of several sampled continuations of the prompt. Any path is accepted.",
                "produces": ["text/plain"],
                "summary": "Generate text",
                "parameters": [
                    {"type": "string", "description": "Prompt text", "name": "prompt", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Selected sample", "schema": {"type": "string"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["text/plain"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "ok", "schema": {"type": "string"}}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["text/plain"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "ready", "schema": {"type": "string"}},
                    "503": {"description": "loading", "schema": {"type": "string"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Session status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 503},
                "error": {"type": "string", "example": "session unavailable"}
            }
        },
        "types.CheckpointRef": {
            "type": "object",
            "properties": {
                "checkpoint_dir": {"type": "string"},
                "model_dir": {"type": "string"},
                "run_name": {"type": "string", "example": "run1"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "ready"},
                "run_id": {"type": "string"},
                "checkpoint": {"$ref": "#/definitions/types.CheckpointRef"},
                "served_count": {"type": "integer"},
                "recycle_threshold": {"type": "integer", "example": 30},
                "loads_total": {"type": "integer"},
                "recycles_total": {"type": "integer"},
                "loaded_at_unix": {"type": "integer"},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        }
    }
}`

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo holds exported API metadata; Host may be set at startup.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "theaterd API",
	Description:      "Appends generated theater scenes to chat replies.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI and doc.json under /swagger/.
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
        "/messages": {
            "get": {
                "produces": ["application/json"],
                "summary": "List the chat transcript",
                "parameters": [{"type": "string", "enum": ["user", "assistant"], "name": "role", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Append a message; replies trigger theater generation",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MessageRequest"}}],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/messages/{index}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get one message",
                "parameters": [{"type": "integer", "name": "index", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/generate": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Generate theater for a message now",
                "parameters": [{"name": "body", "in": "body", "schema": {"$ref": "#/definitions/GenerateRequest"}}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Target message does not exist", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Generation disabled", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "422": {"description": "Target is a user message", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "429": {"description": "Another generation is running", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "502": {"description": "All attempts failed", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/settings": {
            "get": {"produces": ["application/json"], "summary": "Current settings", "responses": {"200": {"description": "OK"}}},
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Patch settings",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/status": {"get": {"produces": ["application/json"], "summary": "Service status", "responses": {"200": {"description": "OK"}}}},
        "/events": {"get": {"produces": ["text/event-stream"], "summary": "Notice stream (SSE)", "responses": {"200": {"description": "OK"}}}}
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}
        },
        "MessageRequest": {
            "type": "object",
            "required": ["text"],
            "properties": {"name": {"type": "string"}, "is_user": {"type": "boolean"}, "text": {"type": "string"}}
        },
        "GenerateRequest": {
            "type": "object",
            "properties": {"index": {"type": "integer"}}
        }
    }
}`

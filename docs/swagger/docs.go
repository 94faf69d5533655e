// Package swagger registers the research API documentation with swag.
package swagger

import "github.com/swaggo/swag"

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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/v1/chat/conversations": {
            "get": {"tags": ["Conversations"], "summary": "List conversations", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ConversationListResponse"}}}},
            "post": {"tags": ["Conversations"], "summary": "Create a conversation", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/requests.CreateConversationRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/responses.ConversationResponse"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}}
        },
        "/v1/chat/conversations/{id}": {
            "get": {"tags": ["Conversations"], "summary": "Get a conversation", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ConversationResponse"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}},
            "patch": {"tags": ["Conversations"], "summary": "Rename a conversation", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/requests.UpdateConversationRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.ConversationResponse"}}}},
            "delete": {"tags": ["Conversations"], "summary": "Delete a conversation", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No Content"}}}
        },
        "/v1/chat/conversations/{id}/stream": {
            "get": {"tags": ["Chat"], "summary": "Stream a research query", "produces": ["text/event-stream"],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "query", "in": "query", "required": true, "type": "string"}, {"name": "model", "in": "query", "type": "string"}],
                "responses": {"200": {"description": "Server-sent events", "schema": {"$ref": "#/definitions/chat.StreamEvent"}}, "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}}
        },
        "/v1/chat/conversations/{id}/jobs": {
            "post": {"tags": ["Chat"], "summary": "Queue a research query",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/requests.EnqueueJobRequest"}}],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/chat.EnqueueResult"}}, "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}}
        },
        "/v1/chat/conversations/{id}/status": {
            "get": {"tags": ["Jobs"], "summary": "Latest job status", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.StatusResponse"}}}}
        },
        "/v1/chat/conversations/{id}/health": {
            "get": {"tags": ["Jobs"], "summary": "Job liveness", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/liveness.Health"}}}}
        },
        "/v1/chat/conversations/{id}/recover": {
            "post": {"tags": ["Jobs"], "summary": "Recover an orphaned job", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/liveness.RecoveryResult"}}, "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}}
        },
        "/v1/chat/conversations/{id}/progress": {
            "get": {"tags": ["Jobs"], "summary": "Stored progress steps", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "offset", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.MessageListResponse"}}}}
        },
        "/v1/chat/conversations/{id}/final": {
            "get": {"tags": ["Jobs"], "summary": "Final answer", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.FinalMessageResponse"}}}}
        },
        "/v1/chat/messages/{id}/tasks": {
            "get": {"tags": ["Messages"], "summary": "Progress steps of a question", "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.TasksResponse"}}}}
        },
        "/v1/chat/messages/{id}/feedback": {
            "post": {"tags": ["Messages"], "summary": "Like or dislike an answer",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}, {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/requests.FeedbackRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.FeedbackResponse"}}}}
        },
        "/v1/chat/email": {
            "post": {"tags": ["Email"], "summary": "Email an answer",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/requests.SendEmailRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/chat.EmailResult"}}, "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}}
        },
        "/v1/chat/email/{queueId}": {
            "get": {"tags": ["Email"], "summary": "Queued email status", "parameters": [{"name": "queueId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.EmailRequestResponse"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}}}
        }
    },
    "definitions": {
        "chat.StreamEvent": {"type": "object", "properties": {"status": {"type": "string", "enum": ["submitted", "progress", "success", "error"]}, "job_id": {"type": "string"}, "title": {"type": "string"}, "content": {"type": "string"}, "message_id": {"type": "integer"}}},
        "chat.EnqueueResult": {"type": "object", "properties": {"message_id": {"type": "string"}, "root_message_id": {"type": "integer"}}},
        "chat.EmailResult": {"type": "object", "properties": {"status": {"type": "string", "enum": ["sent", "queued"]}, "queue_id": {"type": "string"}}},
        "liveness.Health": {"type": "object", "properties": {"ai_status": {"type": "string"}, "is_background_running": {"type": "boolean"}, "needs_recovery": {"type": "boolean"}}},
        "liveness.RecoveryResult": {"type": "object", "properties": {"status": {"type": "string", "enum": ["restarted", "already completed"]}, "job_id": {"type": "string"}}},
        "requests.CreateConversationRequest": {"type": "object", "required": ["first_message"], "properties": {"first_message": {"type": "string"}}},
        "requests.UpdateConversationRequest": {"type": "object", "required": ["title"], "properties": {"title": {"type": "string"}}},
        "requests.EnqueueJobRequest": {"type": "object", "required": ["query"], "properties": {"query": {"type": "string"}, "model": {"type": "string"}}},
        "requests.FeedbackRequest": {"type": "object", "required": ["is_liked"], "properties": {"is_liked": {"type": "boolean"}, "feedback": {"type": "string"}}},
        "requests.SendEmailRequest": {"type": "object", "required": ["conversation_id", "email"], "properties": {"conversation_id": {"type": "string"}, "email": {"type": "string"}}},
        "responses.ErrorResponse": {"type": "object", "properties": {"code": {"type": "string"}, "error": {"type": "string"}, "message": {"type": "string"}, "kind": {"type": "string"}, "job_id": {"type": "string"}, "request_id": {"type": "string"}}},
        "responses.MessageResponse": {"type": "object", "properties": {"id": {"type": "integer"}, "role": {"type": "string"}, "content": {"type": "string"}, "root_message_id": {"type": "integer"}, "metadata": {"type": "object"}, "created_at": {"type": "string"}}},
        "responses.MessageListResponse": {"type": "object", "properties": {"data": {"type": "array", "items": {"$ref": "#/definitions/responses.MessageResponse"}}}},
        "responses.FinalMessageResponse": {"type": "object", "properties": {"message": {"$ref": "#/definitions/responses.MessageResponse"}}},
        "responses.ConversationResponse": {"type": "object", "properties": {"id": {"type": "string"}, "title": {"type": "string"}, "preview": {"type": "string"}, "latest_job_id": {"type": "string"}, "messages": {"type": "array", "items": {"$ref": "#/definitions/responses.MessageResponse"}}, "created_at": {"type": "string"}, "updated_at": {"type": "string"}}},
        "responses.ConversationListResponse": {"type": "object", "properties": {"data": {"type": "array", "items": {"$ref": "#/definitions/responses.ConversationResponse"}}}},
        "responses.StatusResponse": {"type": "object", "properties": {"conversation_id": {"type": "string"}, "status": {"type": "string"}}},
        "responses.TasksResponse": {"type": "object", "properties": {"message_id": {"type": "integer"}, "tasks": {"type": "array", "items": {"type": "string"}}}},
        "responses.FeedbackResponse": {"type": "object", "properties": {"message_id": {"type": "integer"}, "is_liked": {"type": "boolean"}, "feedback": {"type": "string"}, "updated_at": {"type": "string"}}},
        "responses.EmailRequestResponse": {"type": "object", "properties": {"queue_id": {"type": "string"}, "conversation_id": {"type": "string"}, "status": {"type": "string"}, "error_message": {"type": "string"}, "created_at": {"type": "string"}, "updated_at": {"type": "string"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Research API",
	Description:      "Deep-research chat: job submission, streaming, recovery and email delivery",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

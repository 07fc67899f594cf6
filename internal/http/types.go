package http

// Plain-string responses.
const (
	liveText         = "API is up"
	emptyIndexText   = "index is empty"
	noHandleText     = "None"
	failedInsertText = "Failed to insert to index"
	createdFormat    = "Index `%s` created"
	activatedFormat  = "Index `%s` is initialized"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// QueryResponse is the response body for GET /query/:chat_id.
type QueryResponse struct {
	Content string `json:"content"`
}

// UploadResponse is the response body for a successful POST /uploadfile.
type UploadResponse struct {
	Filename string `json:"filename"`
}

// ErrorResponse is the body of a 500 answer.
type ErrorResponse struct {
	Message string `json:"message"`
}

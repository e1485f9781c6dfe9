// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package api exposes the operational HTTP surface: health, metrics, pool
// status, resume state inspection, recent entries, and the live-tail
// WebSocket endpoint.
package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chronista-io/chronista/internal/logging"
)

// APIResponse is the envelope for every JSON endpoint.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// APIError carries a machine-readable code with the message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteSuccess writes a 200 response with the standard envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Time:    time.Now().UTC(),
	})
}

// WriteError writes an error response with the standard envelope.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Time:    time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("failed to encode API response")
	}
}

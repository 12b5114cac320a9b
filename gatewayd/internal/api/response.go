// Package api implements the HTTP REST and WebSocket surface described in
// §6: Chi routing, three auth tiers (UI session, wrapper HMAC+capability,
// worker-host client token), and the envelope/status-code conventions of
// §7. Request bodies are the explicit wire DTOs (shared/wire) rather than
// dynamic JSON, per the §9 re-architecture guidance on dynamic ingress.
package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the standard JSON response wrapper. Successful responses wrap
// the payload in "data"; errors use "error" with an optional "details".
type envelope map[string]any

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the payload wrapped in {"data": payload}.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{"data": payload})
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, envelope{"data": payload})
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func errJSON(w http.ResponseWriter, status int, message string, details any) {
	body := envelope{"error": message}
	if details != nil {
		body["details"] = details
	}
	JSON(w, status, body)
}

// ErrBadRequest writes a 400 with optional validation details.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, nil)
}

// ErrUnauthorized writes a 401. Never discloses which sub-check failed
// (§7: authentication / replay / clock-skew taxonomy).
func ErrUnauthorized(w http.ResponseWriter) {
	errJSON(w, http.StatusUnauthorized, "unauthorized", nil)
}

// ErrForbidden writes a 403 (role, capability, or client-token mismatch).
func ErrForbidden(w http.ResponseWriter) {
	errJSON(w, http.StatusForbidden, "forbidden", nil)
}

// ErrNotFound writes a 404.
func ErrNotFound(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "not found", nil)
}

// ErrConflict writes a 409.
func ErrConflict(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusConflict, message, nil)
}

// ErrTooLarge writes a 413 (artifact overflow, §8 scenario 6).
func ErrTooLarge(w http.ResponseWriter) {
	errJSON(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size", nil)
}

// ErrTooManyRequests writes a 429.
func ErrTooManyRequests(w http.ResponseWriter) {
	errJSON(w, http.StatusTooManyRequests, "rate limited", nil)
}

// ErrInternal writes a 500. The internal error detail is never exposed.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "internal error", nil)
}

// decodeJSON decodes the request body into dst, rejecting unknown fields
// per the explicit-schema-per-route guidance. Returns false and writes a
// 400 on failure so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// Package httpjson writes the {success, data} / {success, message} envelopes
// shared by every endpoint.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const MaxBodyBytes = 1 << 20

var ErrInvalidBody = errors.New("invalid json body")

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, envelope{Success: true, Data: data})
}

func WriteMessage(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, envelope{Success: false, Message: message})
}

// DecodeBody reads a single JSON object into dst, rejecting unknown fields,
// trailing data and bodies over MaxBodyBytes.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return ErrInvalidBody
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrInvalidBody
	}
	return nil
}

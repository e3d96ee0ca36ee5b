// Package handlers contiene los handlers HTTP del proveedor. Cada endpoint
// se construye con sus dependencias explícitas y devuelve un
// http.HandlerFunc listo para montar en el router.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dropDatabas3/cancerbero/internal/http/middlewares"
)

const maxBodyBytes = 64 << 10 // 64 KiB alcanza para cualquier request nuestro

// apiError es la forma única de error del API.
type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// WriteJSON serializa v con el status dado.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError responde el error en formato apiError con el request id del
// contexto.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, desc string) {
	WriteJSON(w, status, apiError{
		Error:            code,
		ErrorDescription: desc,
		RequestID:        middlewares.GetRequestID(r.Context()),
	})
}

// readStrictJSON decodifica el body con límites estrictos: content type
// JSON, tamaño acotado, sin campos desconocidos y un solo objeto. Si el
// body no pasa, responde el error y devuelve false.
func readStrictJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		WriteError(w, r, http.StatusUnsupportedMediaType, "invalid_request", "content type debe ser application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "body inválido: "+err.Error())
		return false
	}
	if dec.More() {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "el body debe traer un único objeto JSON")
		return false
	}
	return true
}

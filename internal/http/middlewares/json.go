package middlewares

import (
	"encoding/json"
	"net/http"
)

// writeJSONError emite el error con la misma forma que usan los
// handlers, sin importar ese paquete.
func writeJSONError(w http.ResponseWriter, status int, code, desc, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": desc,
		"request_id":        requestID,
	})
}

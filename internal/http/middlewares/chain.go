package middlewares

import "net/http"

// Middleware envuelve un handler con comportamiento adicional.
type Middleware func(http.Handler) http.Handler

// Chain aplica los middlewares en orden: el primero de la lista queda
// más afuera (ve la request antes y la response después).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

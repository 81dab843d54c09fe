package modules

import "net/http"

// Module is an HTTP handler mounted under a path prefix that follows the
// server lifecycle.
type Module[C any] interface {
	Shutdown()
	ConfigReload(config *C)
	Cleanup()
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

package api

import (
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"nottu-serverless/internal/app"
	"nottu-serverless/internal/httpjson"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entrypoint. The runtime is built on the first
// request and reused by every later invocation of the same instance.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(app.Options{})
	})

	if initErr != nil {
		httpjson.WriteError(w, http.StatusInternalServerError, "Application bootstrap failed.")
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}

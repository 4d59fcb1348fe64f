package profiling

import (
	"net/http"
	_ "net/http/pprof" // registers the pprof endpoints on the default mux

	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"
)

// StartPprof serves pprof on :6060 outside production environments.
func StartPprof() {
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return
	}

	go func() {
		logger.Log.Info("Starting pprof server on :6060")
		if err := http.ListenAndServe(":6060", nil); err != nil {
			logger.Log.Infof("pprof server failed: ", err)
		}
	}()
}

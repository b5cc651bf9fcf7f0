package handlers

import (
	"net/http"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/database"
	"github.com/keyward/keyward/internal/keystore"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	storeStatus := "unavailable"
	if Keys != nil {
		if _, err := Keys.Store().ListState(keystore.StatePending); err == nil {
			storeStatus = "available"
		}
	}

	status := "healthy"
	if dbStatus != "connected" || storeStatus != "available" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"keystore": storeStatus,
		"backend":  config.Cfg.StoreBackend,
	})
}

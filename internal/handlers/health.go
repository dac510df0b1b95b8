package handlers

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pysugar/casdoor-dify-bridge/internal/version"
)

// HealthzHandler pings the database and cache so deployments can gate traffic
// on both backing stores being reachable.
func HealthzHandler(db *gorm.DB, rdb redis.UniversalClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}

		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "cache unreachable", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, map[string]string{"status": "ok", "version": version.Version})
	}
}

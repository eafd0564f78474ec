package metrics

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordDBPoolMetrics updates database pool metrics for PostgreSQL.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
}

// RecordSQLDBMetrics updates database pool metrics for a database/sql handle.
func RecordSQLDBMetrics(db *sql.DB) {
	stats := db.Stats()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxOpenConnections))
	DBWaitCount.Set(float64(stats.WaitCount))
}

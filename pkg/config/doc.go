// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates permitd configuration from PERMIT_*
// environment variables with sensible defaults, and loads the optional YAML
// permission catalog seeded on top of the system roles.
//
// # Configuration Structure
//
// Server settings:
//
//	PERMIT_HOST="0.0.0.0"
//	PERMIT_PORT="8080"
//	PERMIT_METRICS_PORT="9090"
//	PERMIT_READ_TIMEOUT="15s"
//	PERMIT_MAX_BODY_BYTES="1048576"
//
// Database settings:
//
//	PERMIT_DB_DRIVER="postgres"  # postgres, sqlite3
//	PERMIT_DB_URL="postgres://localhost/permit"
//	PERMIT_DB_MAX_CONNS="25"
//	PERMIT_DB_AUTO_MIGRATE="true"
//	PERMIT_BOOTSTRAP_ON_START="true"
//
// Rate limiting settings (Redis backs the limiter when PERMIT_REDIS_URL is set):
//
//	PERMIT_RATELIMIT_ENABLED="true"
//	PERMIT_RATELIMIT_REQUESTS="1000"
//	PERMIT_RATELIMIT_WINDOW="1m"
//	PERMIT_REDIS_URL="redis://localhost:6379/0"
//
// Audit and catalog settings:
//
//	PERMIT_AUDIT_RETENTION="2160h"
//	PERMIT_AUDIT_PURGE_SCHEDULE="@daily"  # standard cron expression
//	PERMIT_AUDIT_WEBHOOK_URL="https://siem.internal/hooks/permit"
//	PERMIT_AUDIT_WEBHOOK_SECRET="..."
//	PERMIT_CATALOG_FILE="/etc/permit/catalog.yaml"
//	PERMIT_CATALOG_WATCH="true"
//
// Observability settings:
//
//	PERMIT_LOG_LEVEL="info"  # debug, info, warn, error
//	PERMIT_METRICS_ENABLED="true"
//	PERMIT_OTEL_ENABLED="true"
//	PERMIT_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	catalog, err := config.LoadCatalog(cfg.Catalog.File)
//
// With PERMIT_CATALOG_WATCH set, a CatalogWatcher reseeds the catalog each
// time the file changes.
//
// # Related Packages
//
//   - pkg/storage: Uses database, Redis and S3 configuration
//   - pkg/rbac: Seeds the loaded catalog
//   - pkg/observability: Uses observability configuration
package config

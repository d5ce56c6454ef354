package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the ESGBridge store.
// It can be registered with a grove-managed application for orchestrated
// migration management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("esgbridge")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_esgbridge_subscriptions",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_subscriptions (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    url                  TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    secret               TEXT NOT NULL DEFAULT '',
    event_types          TEXT[] NOT NULL DEFAULT '{}',
    status               TEXT NOT NULL DEFAULT 'pending_verification',
    max_attempts         INT NOT NULL DEFAULT 5,
    base_delay_seconds   INT NOT NULL DEFAULT 30,
    exponential          BOOLEAN NOT NULL DEFAULT TRUE,
    consecutive_failures INT NOT NULL DEFAULT 0,
    degraded_at          TIMESTAMPTZ,
    degraded_reason      TEXT NOT NULL DEFAULT '',
    headers              JSONB NOT NULL DEFAULT '{}',
    rate_limit           INT NOT NULL DEFAULT 0,
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_esgbridge_subscriptions_status ON esgbridge_subscriptions (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_events",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_events (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL DEFAULT '',
    entity_type     TEXT NOT NULL DEFAULT '',
    entity_id       TEXT NOT NULL DEFAULT '',
    correlation_id  TEXT NOT NULL DEFAULT '',
    data            JSONB,
    idempotency_key TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_esgbridge_events_type ON esgbridge_events (type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_esgbridge_events_idempotency ON esgbridge_events (idempotency_key) WHERE idempotency_key != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_deliveries",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_deliveries (
    id                 TEXT PRIMARY KEY,
    event_id           TEXT NOT NULL DEFAULT '',
    subscription_id    TEXT NOT NULL DEFAULT '',
    event_type         TEXT NOT NULL DEFAULT '',
    correlation_id     TEXT NOT NULL DEFAULT '',
    payload            JSONB,
    signature          TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'pending',
    attempt_count      INT NOT NULL DEFAULT 0,
    max_attempts       INT NOT NULL DEFAULT 0,
    base_delay_seconds INT NOT NULL DEFAULT 0,
    exponential        BOOLEAN NOT NULL DEFAULT TRUE,
    next_retry_at      TIMESTAMPTZ,
    last_status_code   INT NOT NULL DEFAULT 0,
    last_response      TEXT NOT NULL DEFAULT '',
    last_error         TEXT NOT NULL DEFAULT '',
    last_latency_ms    INT NOT NULL DEFAULT 0,
    last_attempt_at    TIMESTAMPTZ,
    completed_at       TIMESTAMPTZ,
    replay_of          TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_esgbridge_deliveries_due ON esgbridge_deliveries (next_retry_at) WHERE status IN ('pending', 'retrying');
CREATE INDEX IF NOT EXISTS idx_esgbridge_deliveries_event ON esgbridge_deliveries (event_id);
CREATE INDEX IF NOT EXISTS idx_esgbridge_deliveries_subscription ON esgbridge_deliveries (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_connectors",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_connectors (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL DEFAULT 'custom',
    endpoint   TEXT NOT NULL DEFAULT '',
    auth_ref   TEXT NOT NULL DEFAULT '',
    rate_limit INT NOT NULL DEFAULT 0,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_connectors`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_schema_versions",
			Version: "20250301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_schema_versions (
    id                       TEXT PRIMARY KEY,
    entity_type              TEXT NOT NULL DEFAULT '',
    version                  INT NOT NULL DEFAULT 1,
    backward_compatible_with INT,
    attributes               JSONB NOT NULL DEFAULT '[]',
    schema                   JSONB,
    is_deprecated            BOOLEAN NOT NULL DEFAULT FALSE,
    deprecated_at            TIMESTAMPTZ,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (entity_type, version)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_schema_versions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_mappings",
			Version: "20250301000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_mappings (
    id               TEXT PRIMARY KEY,
    connector_id     TEXT NOT NULL DEFAULT '',
    entity_type      TEXT NOT NULL DEFAULT '',
    schema_version   INT NOT NULL DEFAULT 1,
    external_field   TEXT NOT NULL DEFAULT '',
    attribute        TEXT NOT NULL DEFAULT '',
    transform        TEXT NOT NULL DEFAULT 'direct',
    transform_params JSONB NOT NULL DEFAULT '{}',
    required         BOOLEAN NOT NULL DEFAULT FALSE,
    default_value    JSONB,
    priority         INT NOT NULL DEFAULT 0,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_esgbridge_mappings_connector ON esgbridge_mappings (connector_id, entity_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_mappings`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_entities",
			Version: "20250301000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_entities (
    id             TEXT PRIMARY KEY,
    connector_id   TEXT NOT NULL DEFAULT '',
    external_id    TEXT NOT NULL DEFAULT '',
    entity_type    TEXT NOT NULL DEFAULT '',
    schema_version INT NOT NULL DEFAULT 1,
    payload        JSONB NOT NULL DEFAULT '{}',
    is_approved    BOOLEAN NOT NULL DEFAULT FALSE,
    approved_by    TEXT NOT NULL DEFAULT '',
    approved_at    TIMESTAMPTZ,
    revision       INT NOT NULL DEFAULT 1,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (connector_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_esgbridge_entities_type ON esgbridge_entities (entity_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_entities`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_esgbridge_sync_records",
			Version: "20250301000008",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS esgbridge_sync_records (
    id                      TEXT PRIMARY KEY,
    connector_id            TEXT NOT NULL DEFAULT '',
    external_id             TEXT NOT NULL DEFAULT '',
    entity_type             TEXT NOT NULL DEFAULT '',
    entity_id               TEXT NOT NULL DEFAULT '',
    schema_version          INT NOT NULL DEFAULT 0,
    status                  TEXT NOT NULL DEFAULT 'pending',
    resolution              TEXT NOT NULL DEFAULT '',
    overwrote_approved_data BOOLEAN NOT NULL DEFAULT FALSE,
    approved_override_by    TEXT NOT NULL DEFAULT '',
    payload                 JSONB,
    error                   TEXT NOT NULL DEFAULT '',
    duration_ms             BIGINT NOT NULL DEFAULT 0,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_esgbridge_sync_records_connector ON esgbridge_sync_records (connector_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_esgbridge_sync_records_status ON esgbridge_sync_records (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS esgbridge_sync_records`)
				return err
			},
		},
	)
}

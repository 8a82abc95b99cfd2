package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Schema creates every table the repositories touch. Kept as one
// script so integration tests stay in sync with the queries.
const Schema = `
CREATE TABLE IF NOT EXISTS institutions (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id             UUID PRIMARY KEY,
	institution_id UUID REFERENCES institutions (id),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL,
	amount        NUMERIC(19, 4) NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	merchant_type TEXT NOT NULL DEFAULT '',
	time_of_day   INT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_window
	ON transactions (user_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS risk_results (
	id                 BIGSERIAL PRIMARY KEY,
	transaction_id     UUID NOT NULL,
	user_id            UUID NOT NULL,
	score              DOUBLE PRECISION NOT NULL,
	level              TEXT NOT NULL,
	factors            JSONB NOT NULL,
	model_contribution DOUBLE PRECISION,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_snapshots (
	user_id        UUID PRIMARY KEY,
	score          DOUBLE PRECISION NOT NULL,
	level          TEXT NOT NULL,
	transaction_id UUID NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id                UUID PRIMARY KEY,
	user_id           UUID NOT NULL,
	transaction_id    UUID NOT NULL,
	score             DOUBLE PRECISION NOT NULL,
	severity          TEXT NOT NULL,
	triggered_factors TEXT[] NOT NULL DEFAULT '{}',
	message           TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS institution_metrics (
	institution_id  UUID PRIMARY KEY,
	average_risk    DOUBLE PRECISION NOT NULL,
	total_customers INT NOT NULL,
	high_risk_count INT NOT NULL,
	critical_count  INT NOT NULL,
	compliance_rate DOUBLE PRECISION NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS analyst_batches (
	id            UUID PRIMARY KEY,
	analyst_id    TEXT NOT NULL,
	results       JSONB NOT NULL,
	total_clients INT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
`

// ConnectTestDB opens a pool against the given connection string,
// applies the schema and registers cleanup.
func ConnectTestDB(t *testing.T, connStr string) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))

	_, err = pool.Exec(ctx, Schema)
	require.NoError(t, err)

	return pool
}

// TruncateAll clears every table so tests can share one database.
func TruncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE transactions, risk_results, risk_snapshots, alerts,
			institution_metrics, analyst_batches, users, institutions
	`)
	require.NoError(t, err)
}

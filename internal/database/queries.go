package database

// Migration bookkeeping
const (
	createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			migration_name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`

	selectMigrationsSQL = `SELECT migration_name FROM schema_migrations`

	insertMigrationSQL = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

// Order event journal
const (
	InsertOrderEventSQL = `
		INSERT INTO order_events (event_id, order_id, action, old_status, new_status, user_id, details, occurred_at)
		VALUES ($1::uuid, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		ON CONFLICT (event_id) DO NOTHING`

	GetOrderEventsSQL = `
		SELECT event_id::text, order_id, action, COALESCE(old_status, ''), COALESCE(new_status, ''),
			   COALESCE(user_id, ''), details, occurred_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC`
)

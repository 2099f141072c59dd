// anonfeedback/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Record which owner a relationship warning was issued against
ALTER TABLE warning_events ADD COLUMN owner_id INTEGER;

-- Downvote signals look entries up by their rendered message
CREATE INDEX IF NOT EXISTS idx_feedback_message_id ON feedback(message_id);
CREATE INDEX IF NOT EXISTS idx_warning_events_owner ON warning_events(pseudonym, owner_id);
		`,
	},
}

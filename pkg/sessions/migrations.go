package sessions

import (
	"database/sql"

	"github.com/jingkaihe/myllm/pkg/db"
)

var migrations = []db.Migration{
	{
		Version:     20250810120000,
		Description: "create sessions and messages tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					model_name TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE TABLE IF NOT EXISTS messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					role TEXT NOT NULL,
					content TEXT NOT NULL,
					tokens INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_messages_session_created
				ON messages(session_id, created_at)
			`)
			return err
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP INDEX IF EXISTS idx_messages_session_created"); err != nil {
				return err
			}
			if _, err := tx.Exec("DROP TABLE IF EXISTS messages"); err != nil {
				return err
			}
			_, err := tx.Exec("DROP TABLE IF EXISTS sessions")
			return err
		},
	},
	{
		Version:     20250810120001,
		Description: "index sessions by updated_at for retention sweeps",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_sessions_updated
				ON sessions(updated_at)
			`)
			return err
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP INDEX IF EXISTS idx_sessions_updated")
			return err
		},
	},
}

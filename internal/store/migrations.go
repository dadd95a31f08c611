package store

import (
	"database/sql"
	"fmt"

	"zmcptools/internal/logging"
)

// columnMigration is an additive, idempotent ALTER TABLE migration, in the
// style of the teacher's pendingMigrations table (migrations.go): applied
// only when the table exists and the column is missing.
type columnMigration struct {
	table  string
	column string
	def    string
}

// pendingMigrations lists schema additions applied to existing databases.
// Append here, never rewrite a past entry, when a future column is needed.
var pendingMigrations = []columnMigration{}

func (s *Store) runMigrations() error {
	timer := logging.StartTimer(logging.CategoryStore, "store.runMigrations")
	defer timer.Stop()

	applied := 0
	for _, m := range pendingMigrations {
		ok, err := s.tableExists(m.table)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		has, err := s.columnExists(m.table, m.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
		applied++
		logging.StoreDebug("applied migration %s.%s", m.table, m.column)
	}
	if applied > 0 {
		logging.Store("applied %d schema migrations", applied)
	}
	return nil
}

func (s *Store) tableExists(name string) (bool, error) {
	var got string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

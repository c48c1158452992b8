package sqlstore

import "fmt"

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS customer_keys (
			customer_key VARCHAR(255) PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS records (
			record_key VARCHAR(255) PRIMARY KEY,
			version BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS record_fields (
			record_key VARCHAR(255) NOT NULL,
			field VARCHAR(255) NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (record_key, field)
		)`,

		`CREATE TABLE IF NOT EXISTS record_index (
			index_name VARCHAR(255) NOT NULL,
			member VARCHAR(255) NOT NULL,
			PRIMARY KEY (index_name, member)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

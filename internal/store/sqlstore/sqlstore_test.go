package sqlstore

import (
	"os"
	"testing"

	"github.com/pilotauth/pilot/internal/store"
	"github.com/pilotauth/pilot/internal/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite"}) // in-memory
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestSQLiteFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Driver: "sqlite", DataDir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(dir + "/pilot.db"); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

// PILOT_TEST_POSTGRES_DSN and PILOT_TEST_MYSQL_DSN point the suite at real
// servers. The databases must be empty.
func TestPostgresConformance(t *testing.T) {
	runExternal(t, "postgres", os.Getenv("PILOT_TEST_POSTGRES_DSN"))
}

func TestMySQLConformance(t *testing.T) {
	runExternal(t, "mysql", os.Getenv("PILOT_TEST_MYSQL_DSN"))
}

func runExternal(t *testing.T, driver, dsn string) {
	if dsn == "" {
		t.Skipf("set PILOT_TEST_%s_DSN to run", map[string]string{"postgres": "POSTGRES", "mysql": "MYSQL"}[driver])
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(Config{Driver: driver, DSN: dsn})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		for _, table := range []string{"customer_keys", "records", "record_fields", "record_index"} {
			if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		return s
	})
}

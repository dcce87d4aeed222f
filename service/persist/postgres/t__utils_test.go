package postgres

import (
	"database/sql"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	migrate "github.com/SplitFi/go-oasis/db"
	"github.com/SplitFi/go-oasis/docker"
)

func setupTest(t *testing.T) (*assert.Assertions, *sql.DB) {
	if testing.Short() {
		t.Skip("skipping postgres tests in short mode")
	}

	r, err := docker.StartPostgres()
	if err != nil {
		t.Skipf("could not start postgres: %s", err)
	}
	t.Cleanup(func() { r.Close() })

	hostAndPort := strings.Split(r.GetHostPort("5432/tcp"), ":")
	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		t.Fatal(err)
	}

	db := MustCreateClient(WithHost(hostAndPort[0]), WithPort(port), WithUser("postgres"), WithPassword("postgres"), WithDBName("postgres"))
	t.Cleanup(func() { db.Close() })

	if err := migrate.RunMigrations(db, migrate.CoreMigrations); err != nil {
		t.Fatalf("failed to seed db: %s", err)
	}

	return assert.New(t), db
}

package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDefaultsToSQLite(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.True(t, db.Migrator().HasTable("principals"))
	require.True(t, db.Migrator().HasTable("sessions"))
	require.True(t, db.Migrator().HasTable("security_events"))
	require.True(t, db.Migrator().HasTable("backup_codes"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "inkwell",
		Password: "secret",
		Name:     "inkwell_security",
		Host:     "db.internal",
		Port:     5433,
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "port=5433")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{Driver: "postgres"})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "inkwell",
		Name: "inkwell_security",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "@tcp(127.0.0.1:3306)/inkwell_security")
	require.Contains(t, dsn, "parseTime=True")
}

package rgbdb

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	postgres_migrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/jackc/pgx/v4/stdlib" // Register the pgx driver.
	"github.com/lightninglabs/rgb-lightning/rgbdb/sqlc"
	"github.com/stretchr/testify/require"
)

const (
	// defaultPgIdleConns is the number of idle connections kept in the
	// pool when none is configured.
	defaultPgIdleConns = 6

	// defaultPgConnIdleTime is how long an idle connection survives when
	// no limit is configured.
	defaultPgConnIdleTime = 5 * time.Minute
)

// DefaultPostgresFixtureLifetime bounds how long a docker Postgres fixture
// lives. The container is killed after that even if tests are still running.
var DefaultPostgresFixtureLifetime = 60 * time.Minute

// postgresSchemaReplacements rewrites the sqlite flavored migrations into
// their postgres equivalents.
var postgresSchemaReplacements = map[string]string{
	"BLOB":      "BYTEA",
	"TIMESTAMP": "TIMESTAMP WITHOUT TIME ZONE",
}

// PostgresConfig holds the postgres database configuration.
//
// nolint:lll
type PostgresConfig struct {
	SkipMigrations     bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
	Host               string        `long:"host" description:"Database server hostname."`
	Port               int           `long:"port" description:"Database server port."`
	User               string        `long:"user" description:"Database user."`
	Password           string        `long:"password" description:"Database user's password."`
	DBName             string        `long:"dbname" description:"Database name to use."`
	MaxOpenConnections int           `long:"maxconnections" description:"Max open connections to keep alive to the database server."`
	MaxIdleConnections int           `long:"maxidleconnections" description:"Max number of idle connections to keep in the connection pool."`
	ConnMaxLifetime    time.Duration `long:"connmaxlifetime" description:"Max amount of time a connection can be reused for before it is closed."`
	ConnMaxIdleTime    time.Duration `long:"connmaxidletime" description:"Max amount of time a connection can be idle for before it is closed."`
	RequireSSL         bool          `long:"requiressl" description:"Whether to require using SSL (mode: require) when connecting to the server."`
}

// DSN returns the connection string of the database. With hidePassword set
// the password is masked so the result can be logged.
func (s *PostgresConfig) DSN(hidePassword bool) string {
	sslMode := "disable"
	if s.RequireSSL {
		sslMode = "require"
	}

	password := s.Password
	if hidePassword {
		password = "****"
	}

	return fmt.Sprintf("postgres://%v:%v@%v:%d/%v?sslmode=%v", s.User,
		password, s.Host, s.Port, s.DBName, sslMode)
}

// orDefault returns value if it is set and fallback otherwise.
func orDefault[T int | time.Duration](value, fallback T) T {
	if value > 0 {
		return value
	}

	return fallback
}

// PostgresStore is a KV store backed by a Postgres database.
type PostgresStore struct {
	cfg *PostgresConfig

	*BaseDB
}

// NewPostgresStore connects to the configured Postgres server and applies the
// schema migrations unless they're disabled.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	log.Infof("Using SQL database '%s'", cfg.DSN(true))

	rawDB, err := sql.Open("pgx", cfg.DSN(false))
	if err != nil {
		return nil, err
	}

	rawDB.SetMaxOpenConns(
		orDefault(cfg.MaxOpenConnections, defaultMaxConns),
	)
	rawDB.SetMaxIdleConns(
		orDefault(cfg.MaxIdleConnections, defaultPgIdleConns),
	)
	rawDB.SetConnMaxLifetime(
		orDefault(cfg.ConnMaxLifetime, defaultConnMaxLifetime),
	)
	rawDB.SetConnMaxIdleTime(
		orDefault(cfg.ConnMaxIdleTime, defaultPgConnIdleTime),
	)

	if !cfg.SkipMigrations {
		if err := migratePostgres(rawDB, cfg.DBName); err != nil {
			_ = rawDB.Close()
			return nil, fmt.Errorf("unable to migrate postgres: %w",
				err)
		}
	}

	return &PostgresStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      rawDB,
			Queries: sqlc.NewPostgres(rawDB),
		},
	}, nil
}

// migratePostgres runs the embedded migrations against db.
func migratePostgres(db *sql.DB, dbName string) error {
	driver, err := postgres_migrate.WithInstance(
		db, &postgres_migrate.Config{},
	)
	if err != nil {
		return err
	}

	postgresFS := newReplacerFS(sqlSchemas, postgresSchemaReplacements)

	return applyMigrations(postgresFS, driver, "sqlc/migrations", dbName)
}

// NewTestPostgresDB starts a docker Postgres fixture and opens a store on it.
func NewTestPostgresDB(t *testing.T) *PostgresStore {
	t.Helper()

	sqlFixture := NewTestPgFixture(t, DefaultPostgresFixtureLifetime)
	store, err := NewPostgresStore(sqlFixture.GetConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlFixture.TearDown(t)
	})

	return store
}

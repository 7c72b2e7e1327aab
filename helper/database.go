package helper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the connection settings of the graph store.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// NewDatabaseConfiguration reads the connection settings from the
// environment. A .env file in the working directory is loaded first if
// present; variables already set in the environment take precedence.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewError("load .env", err)
	}

	config := &DatabaseConfiguration{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		Database: os.Getenv("DB_DATABASE"),
		Username: os.Getenv("DB_USERNAME"),
		Password: os.Getenv("DB_PASSWORD"),
		Schema:   envOr("DB_SCHEMA", "public"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}

	if len(config.Host) == 0 || len(config.Port) == 0 || len(config.Database) == 0 || len(config.Username) == 0 {
		return nil, NewError("database configuration", fmt.Errorf("%w: DB_HOST, DB_PORT, DB_DATABASE and DB_USERNAME must be set", ErrInvalidArgument))
	}

	return config, nil
}

// ConnectionString returns the lib/pq connection URL.
func (c *DatabaseConfiguration) ConnectionString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	if len(c.Schema) > 0 {
		q.Set("search_path", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Database bundles the connection pool with the logger of its owner.
type Database struct {
	Name     string
	Logger   *slog.Logger
	Instance *sql.DB
}

// NewDatabase opens and pings the connection. It panics if the store is
// unreachable after a few attempts.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := connect(config)
	if err != nil {
		log.Panicf("error connecting to database %s: %v", name, err)
	}

	logger.Info("Connected to database", slog.String("name", name), slog.String("host", config.Host), slog.String("database", config.Database))

	return &Database{
		Name:     name,
		Logger:   logger,
		Instance: db,
	}
}

// NewTestDatabase opens a connection for tests with a quiet logger.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewDatabase("test", config, logger)
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d == nil || d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}

func connect(config *DatabaseConfiguration) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, nil
		}
		if attempt >= 4 {
			db.Close()
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

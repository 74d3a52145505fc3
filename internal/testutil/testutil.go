package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/consultaflow/dispatcher/internal/migrate"
)

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// cleaner is implemented by *testing.T and *testing.B.
type cleaner interface{ Cleanup(func()) }

func onCleanup(t TestingTB, fn func()) {
	if c, ok := t.(cleaner); ok {
		c.Cleanup(fn)
	}
}

// Tables in delete order: consult_jobs references accounts.
var dataTables = []string{"consult_jobs", "accounts"}

// TestDBConfig holds the test database coordinates.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultTestDBConfig reads TEST_DB_* with defaults for the local compose
// profile (port 55432). CI sets TEST_DB_PORT=5432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "consult"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "consult"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "consult"),
		SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
	}
}

// DSN renders the config as a postgres URL. A non-empty schema is put first
// on the search_path.
func (c TestDBConfig) DSN(schema string) string {
	q := url.Values{"sslmode": {c.SSLMode}}
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// WithAutoDB runs fn against a migrated database. With TEST_DB_EPHEMERAL set
// every call gets its own schema, otherwise the shared database is wiped
// before and after fn. The test is skipped when no database answers, unless
// TEST_REQUIRE_DB or TEST_REQUIRE_INFRA is set.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)

	if envBool("TEST_DB_EPHEMERAL") {
		fn(openEphemeralSchema(t))
		return
	}

	db := openTestDB(t, "")
	wipe(t, db)
	defer func() {
		wipe(t, db)
		closeAndLog(t, "test DB", db)
	}()
	fn(db)
}

// SkipIfNoTestDB skips the test if the test database is not reachable.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = db.PingContext(ctx)
		cancel()
		closeAndLog(t, "probe DB", db)
	}
	if err == nil {
		return
	}
	if requireDB() {
		t.Fatal("Test database not available:", err)
	}
	t.Skip("Test database not available:", err)
}

func openTestDB(t TestingTB, schema string) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(schema))
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}
	db.SetMaxOpenConns(10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeAndLog(t, "test DB", db)
		t.Fatal("Failed to connect to test database (docker compose --profile test up -d):", err)
	}
	if err := migrate.Run(ctx, db); err != nil {
		closeAndLog(t, "test DB", db)
		t.Fatal("Failed to run migrations:", err)
	}
	return db
}

// openEphemeralSchema creates a random schema, migrates it and drops it on cleanup.
func openEphemeralSchema(t TestingTB) *sql.DB {
	t.Helper()

	admin, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
	if err != nil {
		t.Fatal("Failed to open admin DB:", err)
	}
	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema)
	cancel()
	if err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}
	t.Logf("Using ephemeral schema: %s", schema)

	var db *sql.DB
	onCleanup(t, func() {
		if db != nil {
			closeAndLog(t, "schema DB", db)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		closeAndLog(t, "admin DB", admin)
	})

	db = openTestDB(t, schema)
	return db
}

func wipe(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range dataTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("Failed to clean up table %s: %v", table, err)
		}
	}
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func closeAndLog(t TestingTB, name string, closer io.Closer) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// JobStateInfo is the queue-relevant view of one consult job.
type JobStateInfo struct {
	ID        int64
	Provider  string
	Status    string
	AccountID *int64
	Message   *string
}

// InspectJobStates returns every consult job ordered by id.
func InspectJobStates(t TestingTB, db *sql.DB) []JobStateInfo {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx,
		`SELECT id, provider, status, account_id, message FROM consult_jobs ORDER BY id ASC`)
	if err != nil {
		t.Fatalf("Failed to query job states: %v", err)
	}
	defer closeAndLog(t, "job state rows", rows)

	var jobs []JobStateInfo
	for rows.Next() {
		var job JobStateInfo
		if err := rows.Scan(&job.ID, &job.Provider, &job.Status, &job.AccountID, &job.Message); err != nil {
			t.Fatalf("Failed to scan job state: %v", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Error iterating over rows: %v", err)
	}
	return jobs
}

// AccountFixture describes an account row for InsertAccount.
type AccountFixture struct {
	Provider    string
	Label       string
	Login       string
	Secret      string
	Token       string
	DailyLimit  int
	Consumed    int
	LastResetAt *time.Time
}

// InsertAccount inserts a provider account with plaintext credentials and returns its id.
func InsertAccount(t TestingTB, db *sql.DB, acc AccountFixture) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO accounts (provider, label, login, secret, token, daily_limit, consumed, last_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, acc.Provider, acc.Label, acc.Login, acc.Secret, acc.Token, acc.DailyLimit, acc.Consumed, acc.LastResetAt).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to insert account: %v", err)
	}
	return id
}

// SetJobUpdatedAt backdates a job so staleness checks see it as old.
func SetJobUpdatedAt(t TestingTB, db *sql.DB, id int64, at time.Time) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `UPDATE consult_jobs SET updated_at = $2 WHERE id = $1`, id, at); err != nil {
		t.Fatalf("Failed to set updated_at on job %d: %v", id, err)
	}
}

// ConcurrentTestRunner runs operations in parallel and collects their errors.
type ConcurrentTestRunner struct {
	t TestingTB
}

// NewConcurrentTestRunner creates a new concurrent test runner.
func NewConcurrentTestRunner(t TestingTB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t}
}

// RunConcurrent starts every fn at once and returns their errors in argument order.
func (r *ConcurrentTestRunner) RunConcurrent(funcs ...func() error) []error {
	r.t.Helper()

	errs := make([]error, len(funcs))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, fn := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// AssertNoErrors fails the test on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("Concurrent operation %d failed: %v", i, err)
		}
	}
}

// Redis candidates in probe order: explicit REDIS_ADDR, compose service, CI
// localhost, then the local test profile port.
func redisCandidates() []string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return []string{addr}
	}
	return []string{"redis:6379", "localhost:6379", "localhost:56379"}
}

func pingRedis(addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// reserveRedisDB claims a logical database in 1..15 through a lease key in
// DB 0, so parallel test packages never flush each other's locks.
// TEST_REDIS_DB pins the index.
func reserveRedisDB(t TestingTB, meta *redis.Client) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("Invalid TEST_REDIS_DB=%q, falling back to auto-select", v)
	}

	for i := 1; i <= 15; i++ {
		key := fmt.Sprintf("consult:testutil:db_lock:%d", i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, strconv.Itoa(os.Getpid()), 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		onCleanup(t, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := meta.Del(ctx, key).Err(); err != nil {
				t.Logf("warning: failed to release redis db lock %s: %v", key, err)
			}
		})
		return i
	}
	return 1
}

// SetupTestRedis returns a client on an empty, reserved Redis database. The
// test is skipped when no Redis answers, unless TEST_REQUIRE_REDIS or
// TEST_REQUIRE_INFRA is set.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	var (
		meta    *redis.Client
		addr    string
		lastErr error
	)
	for _, candidate := range redisCandidates() {
		c, err := pingRedis(candidate, 0)
		if err == nil {
			meta, addr = c, candidate
			break
		}
		lastErr = err
	}
	if meta == nil {
		if requireRedis() {
			t.Fatalf("Redis not available for testing: %v", lastErr)
		}
		t.Skipf("Redis not available for testing: %v", lastErr)
		return nil
	}
	onCleanup(t, func() { closeAndLog(t, "redis meta client", meta) })

	dbIndex := reserveRedisDB(t, meta)
	client, err := pingRedis(addr, dbIndex)
	if err != nil {
		if requireRedis() {
			t.Fatalf("Redis DB %d not available at %s: %v", dbIndex, addr, err)
		}
		t.Skipf("Redis DB %d not available at %s: %v", dbIndex, addr, err)
		return nil
	}
	t.Logf("Using Redis DB=%d for tests at %s", dbIndex, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.FlushDB(ctx)
	return client
}

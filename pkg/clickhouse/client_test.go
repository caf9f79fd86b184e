package clickhouse

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Host:             "ch",
		Port:             9000,
		Database:         "runguard",
		User:             "default",
		Password:         "p@ss",
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		DialTimeout:      5 * time.Second,
		MaxExecutionTime: 90 * time.Second,
		AsyncInsert:      true,
		WaitForAsync:     true,
	}
}

func TestDSN(t *testing.T) {
	dsn := testConfig().DSN()

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("dsn does not parse: %v", err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch:9000" || u.Path != "/runguard" {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if pw, _ := u.User.Password(); pw != "p@ss" {
		t.Fatalf("password not preserved: %q", pw)
	}
	q := u.Query()
	if q.Get("max_execution_time") != "90" || q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("dial_timeout") != "5s" {
		t.Fatalf("dial_timeout = %q", q.Get("dial_timeout"))
	}
}

func TestDSNHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.UseHTTP = true
	cfg.Port = 8123
	if dsn := cfg.DSN(); !strings.HasPrefix(dsn, "http://") {
		t.Fatalf("expected http scheme, got %s", dsn)
	}
}

func TestValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := testConfig()
	cfg.Host = ""
	cfg.Database = "runguard; DROP TABLE x"
	cfg.MaxIdleConns = 20
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"host", "database", "max_idle_conns"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	stmts := Schema()
	if len(stmts) != 4 {
		t.Fatalf("expected 4 tables, got %d", len(stmts))
	}
	for _, s := range stmts {
		if !strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS") {
			t.Fatalf("not idempotent: %s", s[:40])
		}
	}
}

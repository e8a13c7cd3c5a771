package tenantdb

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// fakeDialer hands out lazy handles (no network IO until first query) and
// counts how often each DSN is dialed.
type fakeDialer struct {
	calls map[string]int
	fail  bool
}

func (d *fakeDialer) dial(dsn string) (*sqlx.DB, error) {
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[dsn]++

	if d.fail {
		return nil, fmt.Errorf("dial refused")
	}

	raw, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(raw, "mysql"), nil
}

func testDSN(i int) string {
	return fmt.Sprintf("user:pw@tcp(db-%02d:3306)/tenant_%d?parseTime=true", i, i)
}

func newTestRouter(capacity int) (*Router, *fakeDialer) {
	dialer := &fakeDialer{}
	r := NewRouter(capacity)
	r.dial = dialer.dial
	return r, dialer
}

func TestRouter_HitReturnsSameHandle(t *testing.T) {
	r, dialer := newTestRouter(10)

	first, err := r.Get(testDSN(1))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	second, err := r.Get(testDSN(1))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	if first != second {
		t.Error("expected cache hit to return the same handle")
	}
	if dialer.calls[testDSN(1)] != 1 {
		t.Errorf("expected 1 dial, got %d", dialer.calls[testDSN(1)])
	}
}

func TestRouter_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	r, dialer := newTestRouter(10)

	for i := 1; i <= 11; i++ {
		if _, err := r.Get(testDSN(i)); err != nil {
			t.Fatalf("Get(%d) returned error: %v", i, err)
		}
	}

	if got := r.Len(); got != 10 {
		t.Errorf("expected 10 cached pools, got %d", got)
	}

	// The first DSN was evicted; requesting it again must dial a brand-new
	// handle.
	if _, err := r.Get(testDSN(1)); err != nil {
		t.Fatalf("Get after eviction returned error: %v", err)
	}
	if dialer.calls[testDSN(1)] != 2 {
		t.Errorf("expected 2 dials for evicted DSN, got %d", dialer.calls[testDSN(1)])
	}
}

func TestRouter_TouchProtectsFromEviction(t *testing.T) {
	r, dialer := newTestRouter(3)

	for i := 1; i <= 3; i++ {
		if _, err := r.Get(testDSN(i)); err != nil {
			t.Fatalf("Get(%d) returned error: %v", i, err)
		}
	}

	// Touch DSN 1 so DSN 2 becomes the LRU entry.
	if _, err := r.Get(testDSN(1)); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	if _, err := r.Get(testDSN(4)); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	if _, err := r.Get(testDSN(1)); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if dialer.calls[testDSN(1)] != 1 {
		t.Errorf("touched DSN was evicted: %d dials", dialer.calls[testDSN(1)])
	}

	if _, err := r.Get(testDSN(2)); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if dialer.calls[testDSN(2)] != 2 {
		t.Errorf("expected LRU DSN to be evicted and re-dialed, got %d dials", dialer.calls[testDSN(2)])
	}
}

func TestRouter_DialFailureLeavesCacheUntouched(t *testing.T) {
	r, dialer := newTestRouter(10)

	if _, err := r.Get(testDSN(1)); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	dialer.fail = true
	if _, err := r.Get(testDSN(2)); err == nil {
		t.Fatal("expected dial failure to surface")
	}

	if got := r.Len(); got != 1 {
		t.Errorf("expected cache size 1 after failed dial, got %d", got)
	}

	// The failure must not poison subsequent attempts for the same DSN.
	dialer.fail = false
	if _, err := r.Get(testDSN(2)); err != nil {
		t.Fatalf("Get after recovery returned error: %v", err)
	}
}

func TestRouter_CloseDrainsCache(t *testing.T) {
	r, _ := newTestRouter(5)

	for i := 1; i <= 5; i++ {
		if _, err := r.Get(testDSN(i)); err != nil {
			t.Fatalf("Get(%d) returned error: %v", i, err)
		}
	}

	r.Close()

	if got := r.Len(); got != 0 {
		t.Errorf("expected empty cache after Close, got %d", got)
	}
}

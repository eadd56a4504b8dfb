// Package testutil holds checks shared by the tests of several packages.
package testutil

import (
	"context"
	stderrs "errors"
	"testing"

	"github.com/bobg/docstore/shard"
)

// Shards permits testing a shard.Opener implementation:
// opening without create must not allocate storage,
// shards must be isolated from each other,
// Wipe must remove every table,
// and data must survive Close and reopen.
func Shards(ctx context.Context, t *testing.T, o shard.Opener) {
	var (
		k1 = shard.Key{Kind: shard.Tenant, ID: "T1"}
		k2 = shard.Key{Kind: shard.Tenant, ID: "T2"}
		k3 = shard.Key{Kind: shard.Document, ID: "T1"}
	)

	if _, err := o.Open(ctx, k1, false); !stderrs.Is(err, shard.ErrNotExist) {
		t.Fatalf("got %v opening a missing shard, want ErrNotExist", err)
	}
	if _, err := o.Open(ctx, k1, false); !stderrs.Is(err, shard.ErrNotExist) {
		t.Fatalf("failed open of %s created it (err %v)", k1, err)
	}

	s1, err := o.Open(ctx, k1, true)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s1.HasTable(ctx, "marker")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("new shard already has table marker")
	}
	if _, err = s1.DB().ExecContext(ctx, `CREATE TABLE marker (x BIGINT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if _, err = s1.DB().ExecContext(ctx, `INSERT INTO marker (x) VALUES (1)`); err != nil {
		t.Fatal(err)
	}
	ok, err = s1.HasTable(ctx, "marker")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("HasTable does not see table marker")
	}

	for _, k := range []shard.Key{k2, k3} {
		s, err := o.Open(ctx, k, true)
		if err != nil {
			t.Fatal(err)
		}
		// Creating the same table must succeed if the shards are really disjoint.
		if _, err = s.DB().ExecContext(ctx, `CREATE TABLE marker (x BIGINT NOT NULL)`); err != nil {
			t.Errorf("shard %s is not isolated from %s: %s", k, k1, err)
		}
		if err = s.Wipe(ctx); err != nil {
			t.Fatal(err)
		}
		if err = s.Close(); err != nil {
			t.Fatal(err)
		}
	}

	if err = s1.Close(); err != nil {
		t.Fatal(err)
	}

	s1, err = o.Open(ctx, k1, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()

	var n int
	if err = s1.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM marker`).Scan(&n); err != nil {
		t.Fatalf("reopened shard lost its data: %s", err)
	}
	if n != 1 {
		t.Errorf("got %d rows after reopening, want 1", n)
	}

	if err = s1.Wipe(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err = s1.DB().ExecContext(ctx, `CREATE TABLE marker (x BIGINT NOT NULL)`); err != nil {
		t.Errorf("table survived Wipe: %s", err)
	}
}

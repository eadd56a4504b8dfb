package sqlite3

import (
	"context"
	stderrs "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/testutil"
)

func TestShards(t *testing.T) {
	testutil.Shards(context.Background(), t, New(t.TempDir()))
}

func TestPath(t *testing.T) {
	o := New("root")

	cases := []struct {
		key  shard.Key
		want string
	}{
		{key: shard.Key{Kind: shard.Tenant, ID: "T1"}, want: filepath.Join("root", "tenants", "T1.db")},
		{key: shard.Key{Kind: shard.Document, ID: "3f2a-9c"}, want: filepath.Join("root", "documents", "3f2a-9c.db")},
		{key: shard.Key{Kind: shard.Tenant, ID: "../x"}, want: filepath.Join("root", "tenants", "x.2e2e2f78.db")},
		{key: shard.Key{Kind: shard.Tenant, ID: "a%2Fb"}, want: filepath.Join("root", "tenants", "x.6125324662.db")},
		{key: shard.Key{Kind: shard.Tenant, ID: "a b"}, want: filepath.Join("root", "tenants", "x.612062.db")},
		{key: shard.Key{Kind: shard.Tenant, ID: "x.612062"}, want: filepath.Join("root", "tenants", "x.782e363132303632.db")},
		{key: shard.Key{Kind: shard.Tenant, ID: "v1.2"}, want: filepath.Join("root", "tenants", "x.76312e32.db")},
	}
	seen := make(map[string]string)
	for _, c := range cases {
		got := o.Path(c.key)
		if got != c.want {
			t.Errorf("%s: got %s, want %s", c.key, got, c.want)
		}
		if other, ok := seen[got]; ok {
			t.Errorf("ids %q and %q share path %s", other, c.key.ID, got)
		}
		seen[got] = c.key.ID
	}
}

func TestOpenMissing(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	o := New(root)
	key := shard.Key{Kind: shard.Document, ID: "nope"}

	if _, err := o.Open(ctx, key, false); !stderrs.Is(err, shard.ErrNotExist) {
		t.Fatalf("got %v, want ErrNotExist", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) > 0 {
		t.Errorf("opening a missing shard left %d entries in %s", len(entries), root)
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	o := New(t.TempDir())
	key := shard.Key{Kind: shard.Document, ID: "doc"}

	s, err := o.Open(ctx, key, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = s.DB().ExecContext(ctx, `CREATE TABLE t (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if _, err = s.DB().ExecContext(ctx, `INSERT INTO t (x) VALUES (7)`); err != nil {
		t.Fatal(err)
	}
	if err = s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err = os.Stat(o.Path(key)); err != nil {
		t.Fatal(err)
	}

	s, err = o.Open(ctx, key, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var x int
	if err = s.DB().QueryRowContext(ctx, `SELECT x FROM t`).Scan(&x); err != nil {
		t.Fatal(err)
	}
	if x != 7 {
		t.Errorf("got %d, want 7", x)
	}
}

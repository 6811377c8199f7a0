package readcache

import "testing"

func TestAddThenLookup(t *testing.T) {
	c := New(100)
	c.Add(42, []byte("k"), []byte("v"), 7)

	got, ok := c.Lookup(42, []byte("k"))
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if string(got.Value) != "v" || got.ID != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestLookupMiss(t *testing.T) {
	c := New(100)
	if _, ok := c.Lookup(1, []byte("x")); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestAddOverwritesSameKey(t *testing.T) {
	c := New(100)
	c.Add(1, []byte("k"), []byte("old"), 0)
	c.Add(1, []byte("k"), []byte("new"), 1)

	got, ok := c.Lookup(1, []byte("k"))
	if !ok || string(got.Value) != "new" || got.ID != 1 {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
}

func TestShardEvictsWhenOverCapacity(t *testing.T) {
	c := New(2)
	// Force every entry into shard 0 by using short hashes that all
	// reduce to the same shard index.
	for i := 0; i < 10; i++ {
		sh := uint64(i) * ShardCount
		c.Add(sh, []byte("k"), []byte("v"), int64(i))
	}
	if c.shards[0].size() > 3 {
		t.Fatalf("expected shard to stay bounded near capacity, got size %d", c.shards[0].size())
	}
}

func TestDistinctShardsDoNotCollide(t *testing.T) {
	c := New(100)
	c.Add(0, []byte("a"), []byte("va"), 0)
	c.Add(1, []byte("b"), []byte("vb"), 1)

	if _, ok := c.Lookup(0, []byte("a")); !ok {
		t.Fatal("expected hit in shard 0")
	}
	if _, ok := c.Lookup(1, []byte("b")); !ok {
		t.Fatal("expected hit in shard 1")
	}
}

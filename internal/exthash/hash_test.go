package exthash

import "testing"

func TestFindInsertRoundTrip(t *testing.T) {
	tbl := New[int, string](4)
	tbl.Insert(1, "one")
	tbl.Insert(2, "two")

	if v, ok := tbl.Find(1); !ok || v != "one" {
		t.Fatalf("Find(1) = (%q, %v), want (one, true)", v, ok)
	}
	if v, ok := tbl.Find(2); !ok || v != "two" {
		t.Fatalf("Find(2) = (%q, %v), want (two, true)", v, ok)
	}
	if _, ok := tbl.Find(3); ok {
		t.Fatal("Find(3) should miss")
	}
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	tbl := New[int, string](4)
	tbl.Insert(1, "one")
	tbl.Insert(1, "uno")
	if v, _ := tbl.Find(1); v != "uno" {
		t.Fatalf("Find(1) = %q, want uno", v)
	}
}

func TestRemove(t *testing.T) {
	tbl := New[int, string](4)
	tbl.Insert(1, "one")
	if !tbl.Remove(1) {
		t.Fatal("Remove(1) should report true")
	}
	if tbl.Remove(1) {
		t.Fatal("second Remove(1) should report false")
	}
	if _, ok := tbl.Find(1); ok {
		t.Fatal("key should be gone after Remove")
	}
}

func TestSplitGrowsDirectoryAndPreservesAllEntries(t *testing.T) {
	tbl := New[int, int](2) // tiny capacity forces splits quickly

	const n = 500
	for i := 0; i < n; i++ {
		tbl.Insert(i, i*10)
	}

	for i := 0; i < n; i++ {
		v, ok := tbl.Find(i)
		if !ok {
			t.Fatalf("key %d missing after splits", i)
		}
		if v != i*10 {
			t.Fatalf("key %d = %d, want %d", i, v, i*10)
		}
	}

	if gd := tbl.GetGlobalDepth(); gd <= 0 {
		t.Fatalf("GetGlobalDepth() = %d, want > 0 after forcing splits", gd)
	}
	if nb := tbl.GetNumBuckets(); nb <= 1 {
		t.Fatalf("GetNumBuckets() = %d, want > 1 after forcing splits", nb)
	}
}

func TestGetLocalDepthOutOfRange(t *testing.T) {
	tbl := New[int, int](4)
	if d := tbl.GetLocalDepth(-1); d != -1 {
		t.Fatalf("GetLocalDepth(-1) = %d, want -1", d)
	}
	if d := tbl.GetLocalDepth(1000); d != -1 {
		t.Fatalf("GetLocalDepth(1000) = %d, want -1", d)
	}
}

func TestLocalDepthNeverExceedsGlobalDepth(t *testing.T) {
	tbl := New[int, int](1)
	for i := 0; i < 200; i++ {
		tbl.Insert(i, i)
	}
	gd := tbl.GetGlobalDepth()
	for i := 0; i < (1 << uint(gd)); i++ {
		if ld := tbl.GetLocalDepth(i); ld > gd {
			t.Fatalf("slot %d: local depth %d exceeds global depth %d", i, ld, gd)
		}
	}
}

func TestNumBucketsCountsDistinctPointersNotSlots(t *testing.T) {
	tbl := New[int, int](1024) // large capacity: never splits
	tbl.Insert(1, 1)
	if nb := tbl.GetNumBuckets(); nb != 1 {
		t.Fatalf("GetNumBuckets() = %d, want 1 with a single never-split bucket", nb)
	}
}

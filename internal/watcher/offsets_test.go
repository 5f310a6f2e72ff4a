package watcher

import (
	"reflect"
	"testing"
)

func TestOffsetTable_GetUnknown(t *testing.T) {
	tbl := NewOffsetTable()
	if _, ok := tbl.Get("missing.txt"); ok {
		t.Error("Get on empty table reported ok")
	}
}

func TestOffsetTable_SetGetRemove(t *testing.T) {
	tbl := NewOffsetTable()
	tbl.Set("a.txt", Offset{Lines: 3})

	off, ok := tbl.Get("a.txt")
	if !ok || off.Lines != 3 {
		t.Fatalf("Get = (%+v, %v), want Lines 3", off, ok)
	}

	tbl.Set("a.txt", Offset{Lines: 7})
	if off, _ := tbl.Get("a.txt"); off.Lines != 7 {
		t.Errorf("Lines after overwrite = %d, want 7", off.Lines)
	}

	tbl.Remove("a.txt")
	if _, ok := tbl.Get("a.txt"); ok {
		t.Error("entry still present after Remove")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0", tbl.Len())
	}
}

// TestOffsetTable_KeysIsSnapshot verifies that removing entries while ranging
// over Keys visits every original key.
func TestOffsetTable_KeysIsSnapshot(t *testing.T) {
	tbl := NewOffsetTable()
	for _, n := range []string{"c.txt", "a.txt", "b.txt"} {
		tbl.Set(n, Offset{})
	}

	keys := tbl.Keys()
	if want := []string{"a.txt", "b.txt", "c.txt"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}

	visited := 0
	for _, k := range keys {
		tbl.Remove(k)
		visited++
	}
	if visited != 3 || tbl.Len() != 0 {
		t.Errorf("visited %d, remaining %d; want 3 and 0", visited, tbl.Len())
	}
}

func TestOffsetTable_Snapshot(t *testing.T) {
	tbl := NewOffsetTable()
	tbl.Set("a.txt", Offset{Lines: 2})
	snap := tbl.Snapshot()
	tbl.Set("a.txt", Offset{Lines: 9})

	if snap["a.txt"] != 2 {
		t.Errorf("snapshot changed with the table: got %d, want 2", snap["a.txt"])
	}
}

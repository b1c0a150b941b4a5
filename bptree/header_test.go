package bptree

import (
	"testing"

	"github.com/nanobuf/nanobuf/buffer"
	"github.com/nanobuf/nanobuf/disk"
)

func TestHeaderRecordInsertLookupUpdate(t *testing.T) {
	buf := make([]byte, disk.PageSize)
	setHeaderCount(buf, 0)

	if _, ok := lookupRootRecord(buf, "orders_pk"); ok {
		t.Fatal("lookup on empty header should miss")
	}

	insertRootRecord(buf, "orders_pk", 10)
	insertRootRecord(buf, "customers_pk", 20)

	root, ok := lookupRootRecord(buf, "orders_pk")
	if !ok || root != 10 {
		t.Fatalf("lookupRootRecord(orders_pk) = (%v, %v), want (10, true)", root, ok)
	}
	root, ok = lookupRootRecord(buf, "customers_pk")
	if !ok || root != 20 {
		t.Fatalf("lookupRootRecord(customers_pk) = (%v, %v), want (20, true)", root, ok)
	}

	if !updateRootRecord(buf, "orders_pk", 99) {
		t.Fatal("updateRootRecord(orders_pk) should find an existing record")
	}
	root, _ = lookupRootRecord(buf, "orders_pk")
	if root != 99 {
		t.Fatalf("orders_pk root after update = %d, want 99", root)
	}

	if updateRootRecord(buf, "no_such_index", 1) {
		t.Fatal("updateRootRecord on an absent name should report false")
	}
}

func TestCreateHeaderPageStartsEmpty(t *testing.T) {
	dm := disk.NewMemManager()
	t.Cleanup(func() { dm.Close() })
	pool := buffer.NewPool(buffer.Config{PoolSize: 4}, dm)
	id, err := CreateHeaderPage(pool)
	if err != nil {
		t.Fatalf("CreateHeaderPage: %v", err)
	}
	p, err := pool.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if headerCount(p.Data()) != 0 {
		t.Fatalf("fresh header page count = %d, want 0", headerCount(p.Data()))
	}
	pool.UnpinPage(id, false)
}

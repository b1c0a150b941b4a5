package disk

import "testing"

// FileManager requires an O_DIRECT-capable filesystem, which is not
// guaranteed in every test environment (tmpfs/overlay often reject it).
// MemManager implements the identical disk.Manager contract and is what
// the buffer pool and B+Tree test suites exercise.

func TestMemManager_AllocReadWrite(t *testing.T) {
	m := NewMemManager()
	defer m.Close()

	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if id != 0 {
		t.Fatalf("first allocated id = %d, want 0", id)
	}

	want := make([]byte, PageSize)
	for i := range want {
		want[i] = byte(i)
	}
	if err := m.WritePage(id, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	got := make([]byte, PageSize)
	if err := m.ReadPage(id, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestMemManager_UnwrittenPageReadsZero(t *testing.T) {
	m := NewMemManager()
	defer m.Close()

	id, _ := m.AllocatePage()
	buf := make([]byte, PageSize)
	if err := m.ReadPage(id, buf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 for never-written page", i, b)
		}
	}
}

func TestMemManager_DeallocateReusesID(t *testing.T) {
	m := NewMemManager()
	defer m.Close()

	a, _ := m.AllocatePage()
	b, _ := m.AllocatePage()
	if a == b {
		t.Fatalf("expected distinct ids, got %d twice", a)
	}
	if err := m.DeallocatePage(b); err != nil {
		t.Fatalf("DeallocatePage: %v", err)
	}
	c, _ := m.AllocatePage()
	if c != b {
		t.Fatalf("expected reuse of deallocated id %d, got %d", b, c)
	}
}

func TestMemManager_BufferSizeValidation(t *testing.T) {
	m := NewMemManager()
	defer m.Close()
	id, _ := m.AllocatePage()
	if err := m.WritePage(id, make([]byte, 10)); err == nil {
		t.Fatal("expected error writing undersized buffer")
	}
	if err := m.ReadPage(id, make([]byte, 10)); err == nil {
		t.Fatal("expected error reading into undersized buffer")
	}
}

package keystore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/srivardhansajja/covert/driver/stub"
	"github.com/srivardhansajja/covert/internal/testutils"
	"github.com/srivardhansajja/covert/protocol"
)

func newTestStore(t *testing.T) (*Store, *stub.Flash) {
	t.Helper()
	flash := stub.NewFlash(stub.DefaultPageSize, 8)
	s, err := New(flash, testutils.TestLoggerSys(t, "KSTR"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, flash
}

func TestKeyRoundTrip(t *testing.T) {
	s, flash := newTestStore(t)

	if _, ok, err := s.Key(); err != nil || ok {
		t.Fatalf("Key() on erased flash = ok %v, err %v; want invalid", ok, err)
	}

	key := protocol.Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := s.SetKey(key); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	got, ok, err := s.Key()
	if err != nil || !ok || got != key {
		t.Fatalf("Key() = %x, %v, %v; want %x, true, nil", got, ok, err, key)
	}

	// The key lives at the start of the last page.
	var raw [16]byte
	addr := int64(flash.Pages()-1) * flash.PageSize()
	if _, err := flash.ReadAt(raw[:], addr); err != nil {
		t.Fatal(err)
	}
	if raw != key {
		t.Errorf("last page = %x, want %x", raw, key)
	}

	// Overwriting requires the erase step; the stub rejects programs over
	// non-erased memory.
	key[0] = 0xEE
	if err := s.SetKey(key); err != nil {
		t.Fatalf("second SetKey() error = %v", err)
	}
	if got, _, _ := s.Key(); got != key {
		t.Errorf("Key() = %x, want %x", got, key)
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		name string
		key  protocol.Key
		want bool
	}{
		{"zero", protocol.Key{}, false},
		{"erased", protocol.KeyFromWords([4]uint32{0xFFFFFFFF, 1, 2, 3}), false},
		{"zero first word", protocol.KeyFromWords([4]uint32{0, 1, 2, 3}), false},
		{"valid", protocol.KeyFromWords([4]uint32{1, 0, 0, 0}), true},
		{"erased tail", protocol.KeyFromWords([4]uint32{7, 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF}), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidKey(tc.key); got != tc.want {
				t.Errorf("ValidKey(%x) = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestSequence(t *testing.T) {
	s, _ := newTestStore(t)

	seq, err := s.Sequence()
	if err != nil || seq != 0xFFFFFFFF {
		t.Fatalf("Sequence() on erased flash = %#x, %v; want 0xffffffff", seq, err)
	}
	if err := s.SetSequence(123456); err != nil {
		t.Fatalf("SetSequence() error = %v", err)
	}
	if seq, _ := s.Sequence(); seq != 123456 {
		t.Errorf("Sequence() = %d, want 123456", seq)
	}

	// Sequence and key pages are independent.
	if _, ok, _ := s.Key(); ok {
		t.Error("Key() valid after writing only the sequence")
	}
	if err := s.EraseSequence(); err != nil {
		t.Fatal(err)
	}
	if seq, _ := s.Sequence(); seq != 0xFFFFFFFF {
		t.Errorf("Sequence() after erase = %#x", seq)
	}
}

func TestPersistenceErrors(t *testing.T) {
	s, flash := newTestStore(t)

	fault := errors.New("flash busy")
	flash.SetFault(fault)
	if err := s.SetKey(protocol.Key{1}); !errors.Is(err, fault) {
		t.Errorf("SetKey() error = %v, want %v", err, fault)
	}
	flash.SetFault(nil)

	flash.SetDropWrites(true)
	if err := s.SetSequence(42); !errors.Is(err, ErrVerify) {
		t.Errorf("SetSequence() error = %v, want %v", err, ErrVerify)
	}
}

func TestFileBackedFlash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	key := protocol.KeyFromWords([4]uint32{0xDEADBEEF, 1, 2, 3})

	flash, err := stub.OpenFlash(path, stub.DefaultPageSize, 4)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(flash, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetKey(key); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSequence(9000); err != nil {
		t.Fatal(err)
	}

	// A fresh boot sees the same state.
	flash, err = stub.OpenFlash(path, stub.DefaultPageSize, 4)
	if err != nil {
		t.Fatal(err)
	}
	s, _ = New(flash, nil)
	if got, ok, err := s.Key(); err != nil || !ok || got != key {
		t.Errorf("Key() after reopen = %x, %v, %v", got, ok, err)
	}
	if seq, err := s.Sequence(); err != nil || seq != 9000 {
		t.Errorf("Sequence() after reopen = %d, %v", seq, err)
	}

	if _, err := stub.OpenFlash(path, stub.DefaultPageSize, 8); err == nil {
		t.Error("OpenFlash() with wrong geometry succeeded")
	}
}

func TestSmallFlash(t *testing.T) {
	if _, err := New(stub.NewFlash(stub.DefaultPageSize, 1), nil); !errors.Is(err, ErrFlashSize) {
		t.Errorf("New() error = %v, want %v", err, ErrFlashSize)
	}
}

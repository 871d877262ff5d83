//go:build !tinygo && !baremetal

package stub

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/rogpeppe/go-internal/lockedfile"
)

var (
	ErrOutOfRange = errors.New("stub: flash address out of range")
	ErrUnaligned  = errors.New("stub: flash program not double-word aligned")
	ErrNotErased  = errors.New("stub: flash program over non-erased memory")
)

// Default geometry, matching the nRF52840.
const (
	DefaultPageSize = 4096
	DefaultPages    = 256
)

// Flash emulates NOR flash: erase sets a page to 0xFF and programs only
// land on erased double-words. When backed by a file the image is
// rewritten under a file lock after every change.
type Flash struct {
	mu       sync.Mutex
	pageSize int64
	data     []byte
	path     string

	failErr    error
	dropWrites bool

	erases   int
	programs int
}

// NewFlash returns an erased in-memory flash.
func NewFlash(pageSize int64, pages int) *Flash {
	f := &Flash{
		pageSize: pageSize,
		data:     make([]byte, pageSize*int64(pages)),
	}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

// OpenFlash returns a flash persisted at path. A missing image starts
// erased; an image of the wrong size is rejected.
func OpenFlash(path string, pageSize int64, pages int) (*Flash, error) {
	f := NewFlash(pageSize, pages)
	f.path = path

	img, err := lockedfile.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, f.persist()
	case err != nil:
		return nil, err
	case len(img) != len(f.data):
		return nil, fmt.Errorf("flash image %s is %d bytes, want %d",
			path, len(img), len(f.data))
	}
	copy(f.data, img)
	return f, nil
}

func (f *Flash) PageSize() int64 { return f.pageSize }

func (f *Flash) Pages() int { return int(int64(len(f.data)) / f.pageSize) }

// ErasePage sets every byte of page to 0xFF.
func (f *Flash) ErasePage(page int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failErr != nil {
		return f.failErr
	}
	if page < 0 || page >= f.Pages() {
		return ErrOutOfRange
	}
	f.erases++
	if f.dropWrites {
		return nil
	}
	start := int64(page) * f.pageSize
	for i := start; i < start+f.pageSize; i++ {
		f.data[i] = 0xFF
	}
	return f.persist()
}

// ProgramDoubleWord writes v little-endian at addr.
func (f *Flash) ProgramDoubleWord(addr int64, v uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failErr != nil {
		return f.failErr
	}
	if addr%8 != 0 {
		return ErrUnaligned
	}
	if addr < 0 || addr+8 > int64(len(f.data)) {
		return ErrOutOfRange
	}
	dst := f.data[addr : addr+8]
	if !bytes.Equal(dst, erased[:]) {
		return ErrNotErased
	}
	f.programs++
	if f.dropWrites {
		return nil
	}
	binary.LittleEndian.PutUint64(dst, v)
	return f.persist()
}

var erased = [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ReadAt implements io.ReaderAt.
func (f *Flash) ReadAt(p []byte, addr int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if addr < 0 || addr+int64(len(p)) > int64(len(f.data)) {
		return 0, ErrOutOfRange
	}
	return copy(p, f.data[addr:]), nil
}

// SetFault makes erases and programs fail with err until cleared with nil.
func (f *Flash) SetFault(err error) {
	f.mu.Lock()
	f.failErr = err
	f.mu.Unlock()
}

// SetDropWrites makes erases and programs report success without
// changing the array.
func (f *Flash) SetDropWrites(drop bool) {
	f.mu.Lock()
	f.dropWrites = drop
	f.mu.Unlock()
}

// Wear returns the number of page erases and double-word programs so far.
func (f *Flash) Wear() (erases, programs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.erases, f.programs
}

func (f *Flash) persist() error {
	if f.path == "" {
		return nil
	}
	return lockedfile.Write(f.path, bytes.NewReader(f.data), 0o600)
}

// Package keystore persists the channel key and the sequence high-water
// mark in the last two pages of on-chip flash.
//
// The last page holds the 16-byte key as two little-endian double-words.
// The page before it holds the sequence mark in the low half of its first
// double-word. Every update erases the page, programs it and reads it back.
package keystore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/hal"
	"github.com/srivardhansajja/covert/protocol"
)

var (
	ErrVerify    = errors.New("flash read-back does not match written value")
	ErrFlashSize = errors.New("flash has fewer than two pages")
)

const erasedWord = 0xFFFFFFFF

// Store reads and writes the persistent device state.
type Store struct {
	mu    sync.Mutex
	flash hal.Flash
	log   slog.Logger
}

// New returns a Store over flash. A nil logger disables logging.
func New(flash hal.Flash, log slog.Logger) (*Store, error) {
	if flash.Pages() < 2 {
		return nil, ErrFlashSize
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Store{flash: flash, log: log}, nil
}

func (s *Store) keyPage() int      { return s.flash.Pages() - 1 }
func (s *Store) sequencePage() int { return s.flash.Pages() - 2 }

func (s *Store) pageAddr(page int) int64 { return int64(page) * s.flash.PageSize() }

// Key returns the stored key. ok is false when the flash holds no usable
// key: a first word of all zeros or all ones (erased).
func (s *Store) Key() (key protocol.Key, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.flash.ReadAt(key[:], s.pageAddr(s.keyPage())); err != nil {
		return key, false, fmt.Errorf("read key: %w", err)
	}
	return key, ValidKey(key), nil
}

// ValidKey reports whether k can serve as a channel key.
func ValidKey(k protocol.Key) bool {
	w := k.Words()[0]
	return w != 0 && w != erasedWord
}

// SetKey replaces the stored key.
func (s *Store) SetKey(k protocol.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rewrite(s.keyPage(), k[:]); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	s.log.Debugf("Stored key %s", k.Fingerprint())
	return nil
}

// EraseKey returns the key page to the erased state.
func (s *Store) EraseKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flash.ErasePage(s.keyPage()); err != nil {
		return fmt.Errorf("erase key: %w", err)
	}
	s.log.Infof("Key erased")
	return nil
}

// Sequence returns the stored sequence high-water mark. An erased page
// reads as 0xFFFFFFFF.
func (s *Store) Sequence() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b [4]byte
	if _, err := s.flash.ReadAt(b[:], s.pageAddr(s.sequencePage())); err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// SetSequence replaces the stored high-water mark.
func (s *Store) SetSequence(seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b [8]byte
	binary.LittleEndian.PutUint32(b[:], seq)
	if err := s.rewrite(s.sequencePage(), b[:]); err != nil {
		return fmt.Errorf("store sequence %d: %w", seq, err)
	}
	s.log.Tracef("Stored sequence mark %d", seq)
	return nil
}

// EraseSequence returns the sequence page to the erased state so the next
// boot draws a fresh random counter.
func (s *Store) EraseSequence() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flash.ErasePage(s.sequencePage()); err != nil {
		return fmt.Errorf("erase sequence: %w", err)
	}
	s.log.Infof("Sequence mark erased")
	return nil
}

// rewrite erases page and programs data, a whole number of double-words,
// at its start.
func (s *Store) rewrite(page int, data []byte) error {
	if err := s.flash.ErasePage(page); err != nil {
		return err
	}
	addr := s.pageAddr(page)
	for off := 0; off < len(data); off += 8 {
		v := binary.LittleEndian.Uint64(data[off:])
		if err := s.flash.ProgramDoubleWord(addr+int64(off), v); err != nil {
			return err
		}
	}

	back := make([]byte, len(data))
	if _, err := s.flash.ReadAt(back, addr); err != nil {
		return err
	}
	for i := range data {
		if back[i] != data[i] {
			return ErrVerify
		}
	}
	return nil
}

package storage

import (
	"errors"
	"fmt"
	"os"
)

// PartialFile assembles a chunked transfer in a hidden temporary file
// ".<name>.<random>.part" and links it into place on Commit. It belongs to a single connection and is not safe for
// concurrent use.
type PartialFile struct {
	store    *Store
	name     string
	partPath string
	file     *os.File
	skip     bool // destination already existed when the transfer began
	nextSeq  uint64
	size     int64
	maxBytes int64
	done     bool
}

// Begin starts a chunked transfer for name. maxBytes caps the assembled size;
// zero means unlimited. When the destination already exists the transfer still
// runs its sequence checks but discards the data.
func (s *Store) Begin(name string, maxBytes int64) (*PartialFile, error) {
	p := &PartialFile{
		store:    s,
		name:     name,
		maxBytes: maxBytes,
	}
	if s.Exists(name) {
		p.skip = true
		return p, nil
	}
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	// Every transfer gets its own part file; concurrent or stale ones never collide.
	f, err := os.CreateTemp(s.dir, "."+name+".*"+partSuffix)
	if err != nil {
		return nil, fmt.Errorf("create part file for %s: %w", name, err)
	}
	if err := f.Chmod(filePerm); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("chmod %s: %w", f.Name(), err)
	}
	p.file = f
	p.partPath = f.Name()
	return p, nil
}

// Name returns the destination name.
func (p *PartialFile) Name() string {
	return p.name
}

// Size returns the number of payload bytes accepted so far.
func (p *PartialFile) Size() int64 {
	return p.size
}

// Append writes the payload of chunk seq. Chunks must arrive in order starting at 0.
func (p *PartialFile) Append(seq uint64, payload []byte) error {
	if p.done {
		return ErrFinished
	}
	if seq != p.nextSeq {
		return fmt.Errorf("%w: got %d, want %d", ErrSequence, seq, p.nextSeq)
	}
	if p.maxBytes > 0 && p.size+int64(len(payload)) > p.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, p.maxBytes)
	}
	if !p.skip {
		if _, err := p.file.Write(payload); err != nil {
			return fmt.Errorf("write %s: %w", p.partPath, err)
		}
	}
	p.nextSeq++
	p.size += int64(len(payload))
	return nil
}

// Commit moves the assembled file into place. written is false when the
// destination already existed, either at Begin or by the time of the commit.
func (p *PartialFile) Commit() (written bool, err error) {
	if p.done {
		return false, ErrFinished
	}
	p.done = true
	if p.skip {
		return false, nil
	}
	defer os.Remove(p.partPath)

	if err := p.file.Sync(); err != nil {
		p.file.Close()
		return false, fmt.Errorf("sync %s: %w", p.partPath, err)
	}
	if err := p.file.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", p.partPath, err)
	}
	// Link fails if the destination exists, which keeps the no-overwrite rule atomic.
	if err := os.Link(p.partPath, p.store.Path(p.name)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("move %s into place: %w", p.name, err)
	}
	return true, nil
}

// Abort discards the transfer. Safe to call after Commit.
func (p *PartialFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	if p.file != nil {
		p.file.Close()
		_ = os.Remove(p.partPath)
	}
}

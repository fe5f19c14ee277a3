// Package outbox implements Module D: the durable per-peer queue of
// locally produced events awaiting broker publication (spec section 4.4).
package outbox

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngtypes"
)

// Entry is one queued outbox item: an event plus the overlay it belongs to.
// Branch and Acks are kept in plaintext alongside the (already encrypted)
// Event so the orchestrator can walk replay-on-divergence checks (spec
// section 4.4) without re-decrypting every queued event.
type Entry struct {
	Event   ngtypes.Event
	Overlay ngtypes.OverlayID
	Branch  ngtypes.BranchID
	Acks    []ngtypes.ObjectRef
	// SelfRef is the ref of the commit this entry publishes; applying the
	// entry replaces the branch's current_heads with [SelfRef] (spec
	// section 4.3).
	SelfRef ngtypes.ObjectRef
}

// Outbox is a FIFO queue of Entry, backed by one of three implementations
// (spec section 4.4): in-memory, append-only file-per-peer, or a
// host-supplied callback.
type Outbox interface {
	// Enqueue appends a new entry to the tail of the queue.
	Enqueue(e Entry) error
	// Drain returns every currently queued entry, in FIFO order, without
	// removing them (callers remove via Ack once publication succeeds).
	Drain() ([]Entry, error)
	// Ack removes the first n entries (the ones that were successfully
	// published) from the head of the queue.
	Ack(n int) error
	// Requeue re-appends entries to the tail, used when a connection drops
	// mid-publication (spec: "on disconnect, new events are re-appended").
	Requeue(entries []Entry) error
}

// MemOutbox is the in-memory backend, a plain mutex-guarded slice.
type MemOutbox struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemOutbox() *MemOutbox { return &MemOutbox{} }

func (m *MemOutbox) Enqueue(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemOutbox) Drain() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MemOutbox) Ack(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.entries) {
		n = len(m.entries)
	}
	m.entries = m.entries[n:]
	return nil
}

func (m *MemOutbox) Requeue(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

// CallbackOutbox delegates storage to host-supplied functions, for
// embedding into an application that already owns a persistence layer.
type CallbackOutbox struct {
	EnqueueFn func(Entry) error
	DrainFn   func() ([]Entry, error)
	AckFn     func(int) error
	RequeueFn func([]Entry) error
}

func (c *CallbackOutbox) Enqueue(e Entry) error       { return c.EnqueueFn(e) }
func (c *CallbackOutbox) Drain() ([]Entry, error)     { return c.DrainFn() }
func (c *CallbackOutbox) Ack(n int) error             { return c.AckFn(n) }
func (c *CallbackOutbox) Requeue(entries []Entry) error { return c.RequeueFn(entries) }

// FileOutbox is the file-per-peer backend described in spec section 6's
// persisted-state table: `outbox<peerid-hash>`, a sequence of
// length-prefixed records. It keeps an in-memory mirror for Drain so reads
// don't require re-parsing the file. The file is not appended to: every
// Enqueue, Ack and Requeue rewrites it whole through a temporary file and
// a rename.
type FileOutbox struct {
	mu   sync.Mutex
	path string
	mem  []Entry
}

// OpenFileOutbox loads the outbox file at path. A missing file yields an
// empty queue; the file is first written by the next Enqueue, Ack or
// Requeue.
func OpenFileOutbox(path string) (*FileOutbox, error) {
	f := &FileOutbox{path: path}
	entries, err := readRecords(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	f.mem = entries
	return f, nil
}

func (f *FileOutbox) Enqueue(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem = append(f.mem, e)
	return f.rewriteLocked()
}

func (f *FileOutbox) Drain() ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.mem))
	copy(out, f.mem)
	return out, nil
}

func (f *FileOutbox) Ack(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.mem) {
		n = len(f.mem)
	}
	f.mem = f.mem[n:]
	return f.rewriteLocked()
}

func (f *FileOutbox) Requeue(entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem = append(f.mem, entries...)
	return f.rewriteLocked()
}

func (f *FileOutbox) rewriteLocked() error {
	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open outbox tmp file: %w", err)
	}
	for _, e := range f.mem {
		if err := writeRecord(file, e); err != nil {
			file.Close()
			return err
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func writeRecord(w io.Writer, e Entry) error {
	body := encodeEntry(e)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readRecords(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for off := 0; off < len(data); {
		if off+4 > len(data) {
			break
		}
		n := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if off+n > len(data) {
			break
		}
		e, err := decodeEntry(data[off : off+n])
		if err != nil {
			return nil, fmt.Errorf("decode outbox record: %w", err)
		}
		out = append(out, e)
		off += n
	}
	return out, nil
}

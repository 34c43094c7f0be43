package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"

	"github.com/stompd/broker/frame"
)

// signBit flips an int64's sign bit so its big-endian byte encoding sorts
// the same way the signed value does; pebble compares keys byte-wise.
const signBit = uint64(1) << 63

// PebbleStoreConfig configures an embedded, disk-backed durable store.
type PebbleStoreConfig struct {
	Path string
	Opts *pebble.Options
}

// destCounters tracks the next sequence number to assign on each side of a
// destination's queue: posSeq increases on Enqueue (new tail), negSeq
// decreases on Requeue (new head, always ahead of every posSeq entry).
type destCounters struct {
	posSeq int64
	negSeq int64
}

// PebbleStore is a Pebble-backed durable Store. Each queued frame is a
// single key/value pair; ordering is encoded entirely in the key so a fresh
// iterator naturally yields FIFO order with requeued frames ahead of
// everything enqueued since.
type PebbleStore struct {
	db     *pebble.DB
	prefix []byte

	mu       sync.Mutex
	counters map[string]*destCounters
	closed   bool
}

// NewPebbleStore opens (or creates) the database at config.Path.
func NewPebbleStore(config PebbleStoreConfig) (*PebbleStore, error) {
	opts := config.Opts
	if opts == nil {
		opts = &pebble.Options{ErrorIfExists: false}
	}

	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("queue: open pebble store: %w", err)
	}

	return &PebbleStore{
		db:       db,
		prefix:   []byte("queue:"),
		counters: make(map[string]*destCounters),
	}, nil
}

func (p *PebbleStore) destPrefix(destination string) []byte {
	return append(append([]byte{}, p.prefix...), []byte(destination+"\x00")...)
}

func encodeSeq(seq int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq)^signBit)
	return buf[:]
}

func (p *PebbleStore) key(destination string, seq int64) []byte {
	return append(p.destPrefix(destination), encodeSeq(seq)...)
}

// countersFor returns the counters for destination, recovering them from
// the existing key range on first touch so a process restart resumes
// ordering consistently with what was persisted.
func (p *PebbleStore) countersFor(destination string) (*destCounters, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[destination]; ok {
		return c, nil
	}

	lower := p.destPrefix(destination)
	upper := append(append([]byte{}, lower...), 0xff)

	c := &destCounters{posSeq: 0, negSeq: -1}

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		raw := k[len(lower):]
		if len(raw) != 8 {
			continue
		}
		seq := int64(binary.BigEndian.Uint64(raw) ^ signBit)
		if seq >= 0 && seq >= c.posSeq {
			c.posSeq = seq + 1
		}
		if seq < 0 && seq <= c.negSeq {
			c.negSeq = seq - 1
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	p.counters[destination] = c
	return c, nil
}

func (p *PebbleStore) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Enqueue implements Store.
func (p *PebbleStore) Enqueue(ctx context.Context, destination string, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrStoreClosed
	}

	c, err := p.countersFor(destination)
	if err != nil {
		return err
	}

	p.mu.Lock()
	seq := c.posSeq
	c.posSeq++
	p.mu.Unlock()

	return p.put(destination, seq, f)
}

// Requeue implements Store, reinserting ahead of every enqueued entry.
func (p *PebbleStore) Requeue(ctx context.Context, destination string, f *frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrStoreClosed
	}

	c, err := p.countersFor(destination)
	if err != nil {
		return err
	}

	p.mu.Lock()
	seq := c.negSeq
	c.negSeq--
	p.mu.Unlock()

	return p.put(destination, seq, f)
}

func (p *PebbleStore) put(destination string, seq int64, f *frame.Frame) error {
	data, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("queue: marshal frame: %w", err)
	}
	return p.db.Set(p.key(destination, seq), data, pebble.Sync)
}

// Dequeue implements Store.
func (p *PebbleStore) Dequeue(ctx context.Context, destination string) (*frame.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.isClosed() {
		return nil, false, ErrStoreClosed
	}

	lower := p.destPrefix(destination)
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, false, err
	}
	defer iter.Close()

	if !iter.First() {
		return nil, false, nil
	}

	var f frame.Frame
	if err := cbor.Unmarshal(iter.Value(), &f); err != nil {
		return nil, false, fmt.Errorf("queue: unmarshal frame: %w", err)
	}

	key := append([]byte{}, iter.Key()...)
	if err := p.db.Delete(key, pebble.Sync); err != nil {
		return nil, false, err
	}

	return &f, true, nil
}

// Size implements Store.
func (p *PebbleStore) Size(ctx context.Context, destination string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.isClosed() {
		return 0, ErrStoreClosed
	}

	lower := p.destPrefix(destination)
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

// HasFrames implements Store.
func (p *PebbleStore) HasFrames(ctx context.Context, destination string) (bool, error) {
	n, err := p.Size(ctx, destination)
	return n > 0, err
}

// Destinations implements Store.
func (p *PebbleStore) Destinations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.isClosed() {
		return nil, ErrStoreClosed
	}

	lower := p.prefix
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	seen := make(map[string]struct{})
	for iter.First(); iter.Valid(); iter.Next() {
		rest := iter.Key()[len(p.prefix):]
		idx := indexByte(rest, 0x00)
		if idx < 0 {
			continue
		}
		seen[string(rest[:idx])] = struct{}{}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for destination := range seen {
		out = append(out, destination)
	}
	return out, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Drain implements Store.
func (p *PebbleStore) Drain(ctx context.Context, destination string, fn func(*frame.Frame) bool) error {
	return drain(ctx, p, destination, fn)
}

// Close implements Store.
func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStoreClosed
	}
	p.closed = true
	return p.db.Close()
}

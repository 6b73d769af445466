package owdns

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// SnapshotOptions configures a Cache's disk persistence.
type SnapshotOptions struct {
	// Path to the snapshot file. Empty disables persistence.
	Path string

	// IntervalSecs is how often a background save runs. 0 disables the
	// periodic timer (shutdown save still applies).
	IntervalSecs int

	// ShutdownSaveTimeoutSecs bounds the shutdown save; on expiry the
	// partial file is discarded, not installed. 0 means no deadline.
	ShutdownSaveTimeoutSecs int

	// MaxItemsToSave, if positive, truncates the snapshot to the N
	// most-recently-used items.
	MaxItemsToSave int
}

var snapshotMagic = [8]byte{'O', 'W', 'D', 'N', 'S', 'C', 'A', 'C'}

const snapshotVersion = uint32(1)

// saveSnapshot serialises all non-expired entries, most-recently-used
// first, to a self-describing binary file. Failures are reported as
// *Error{Kind: KindCachePersistence} but never propagated to a request path.
func (c *Cache) saveSnapshot() error {
	return c.saveSnapshotContext(context.Background())
}

func (c *Cache) saveSnapshotContext(ctx context.Context) error {
	path := c.Snapshot.Path
	if path == "" {
		return nil
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return wrapError(KindCachePersistence, err, "create snapshot file")
	}
	w := bufio.NewWriter(f)

	if err := c.encodeSnapshot(ctx, w); err != nil {
		f.Close()
		os.Remove(tmp)
		return wrapError(KindCachePersistence, err, "write snapshot")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return wrapError(KindCachePersistence, err, "flush snapshot")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return wrapError(KindCachePersistence, err, "close snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return wrapError(KindCachePersistence, err, "install snapshot")
	}
	return nil
}

func (c *Cache) encodeSnapshot(ctx context.Context, w io.Writer) error {
	var header [16]byte
	copy(header[:8], snapshotMagic[:])
	binary.LittleEndian.PutUint32(header[8:12], snapshotVersion)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	c.mu.Lock()
	n := c.Snapshot.MaxItemsToSave
	items := c.store.mostRecentFirst(n)
	c.mu.Unlock()

	now := time.Now()
	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if now.After(item.entry.ExpiresAt) {
			continue
		}
		buf, err := encodeSnapshotEntry(item.key, item.entry)
		if err != nil {
			continue // skip entries that fail to encode, don't fail the whole save
		}
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
		if _, err := w.Write(lenPrefix[:]); err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func encodeSnapshotEntry(key cacheKey, entry cacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	name := []byte(key.Name)
	if len(name) > 1<<16-1 {
		return nil, fmt.Errorf("name too long")
	}
	binary.Write(&buf, binary.LittleEndian, uint16(len(name)))
	buf.Write(name)
	binary.Write(&buf, binary.LittleEndian, key.Qtype)
	binary.Write(&buf, binary.LittleEndian, key.Qclass)
	binary.Write(&buf, binary.LittleEndian, key.Scope.Family)
	binary.Write(&buf, binary.LittleEndian, key.Scope.PrefixLen)
	buf.Write(key.Scope.Network[:])
	binary.Write(&buf, binary.LittleEndian, entry.CreatedAt.UnixNano())
	binary.Write(&buf, binary.LittleEndian, entry.ExpiresAt.UnixNano())
	var flags byte
	if entry.IsNegative {
		flags |= 1
	}
	if entry.DNSSECValidated {
		flags |= 2
	}
	buf.WriteByte(flags)
	binary.Write(&buf, binary.LittleEndian, uint32(len(entry.Msg)))
	buf.Write(entry.Msg)
	return buf.Bytes(), nil
}

func decodeSnapshotEntry(r io.Reader) (cacheKey, cacheEntry, error) {
	var key cacheKey
	var entry cacheEntry

	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return key, entry, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return key, entry, err
	}
	key.Name = string(name)
	if err := binary.Read(r, binary.LittleEndian, &key.Qtype); err != nil {
		return key, entry, err
	}
	if err := binary.Read(r, binary.LittleEndian, &key.Qclass); err != nil {
		return key, entry, err
	}
	if err := binary.Read(r, binary.LittleEndian, &key.Scope.Family); err != nil {
		return key, entry, err
	}
	if err := binary.Read(r, binary.LittleEndian, &key.Scope.PrefixLen); err != nil {
		return key, entry, err
	}
	if _, err := io.ReadFull(r, key.Scope.Network[:]); err != nil {
		return key, entry, err
	}
	var createdNano, expiresNano int64
	if err := binary.Read(r, binary.LittleEndian, &createdNano); err != nil {
		return key, entry, err
	}
	if err := binary.Read(r, binary.LittleEndian, &expiresNano); err != nil {
		return key, entry, err
	}
	entry.CreatedAt = time.Unix(0, createdNano)
	entry.ExpiresAt = time.Unix(0, expiresNano)

	var flags byte
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return key, entry, err
	}
	entry.IsNegative = flags&1 != 0
	entry.DNSSECValidated = flags&2 != 0

	var msgLen uint32
	if err := binary.Read(r, binary.LittleEndian, &msgLen); err != nil {
		return key, entry, err
	}
	entry.Msg = make([]byte, msgLen)
	if _, err := io.ReadFull(r, entry.Msg); err != nil {
		return key, entry, err
	}
	return key, entry, nil
}

// loadSnapshot reads and validates the magic/version header, then replays
// entries in file order. Malformed files are logged and skipped; expired
// entries are dropped at load time.
func (c *Cache) loadSnapshot() error {
	path := c.Snapshot.Path
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapError(KindCachePersistence, err, "open snapshot file")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return wrapError(KindCachePersistence, err, "read snapshot header")
	}
	if !bytes.Equal(header[:8], snapshotMagic[:]) {
		return wrapError(KindCachePersistence, fmt.Errorf("bad magic"), "validate snapshot header")
	}
	version := binary.LittleEndian.Uint32(header[8:12])
	if version != snapshotVersion {
		return wrapError(KindCachePersistence, fmt.Errorf("unsupported version %d", version), "validate snapshot header")
	}

	now := time.Now()
	var loaded, skipped int
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			skipped++
			break
		}
		n := binary.LittleEndian.Uint32(lenPrefix[:])
		entryBuf := make([]byte, n)
		if _, err := io.ReadFull(r, entryBuf); err != nil {
			skipped++
			break
		}
		key, entry, err := decodeSnapshotEntry(bytes.NewReader(entryBuf))
		if err != nil || key.Name == "" {
			skipped++
			continue
		}
		if now.After(entry.ExpiresAt) {
			skipped++
			continue
		}
		c.mu.Lock()
		c.store.add(key, entry)
		c.mu.Unlock()
		loaded++
	}
	Log.WithField("id", c.id).WithField("loaded", loaded).WithField("skipped", skipped).
		Info("loaded cache snapshot")
	return nil
}

func (c *Cache) periodicSnapshot() {
	if c.Snapshot.IntervalSecs <= 0 {
		return
	}
	interval := time.Duration(c.Snapshot.IntervalSecs) * time.Second
	for {
		time.Sleep(interval)
		if err := c.saveSnapshot(); err != nil {
			Log.WithField("id", c.id).WithError(err).Warn("periodic cache snapshot failed")
		}
	}
}

// Close performs the bounded shutdown save described in spec.md §4.2: the
// worker is given a hard deadline, and on timeout the partial file is
// discarded rather than installed.
func (c *Cache) Close() error {
	if c.Snapshot.Path == "" {
		return nil
	}
	timeout := time.Duration(c.Snapshot.ShutdownSaveTimeoutSecs) * time.Second
	if timeout <= 0 {
		return c.saveSnapshot()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := c.saveSnapshotContext(ctx)
	if ctx.Err() != nil {
		Log.WithField("id", c.id).Warn("cache snapshot shutdown deadline exceeded, discarding")
		return wrapError(KindCachePersistence, ctx.Err(), "shutdown snapshot deadline")
	}
	return err
}

// Package journal is the journal collaborator from §6: preres_get/
// preres_put, pin_copy/pin_drop/pin_flush, and the two entry kinds the
// update engine writes (btree_keys for parent insertions, btree_root for
// root registry snapshots).
package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/directio"
)

// SyncMode controls when the journal is fsynced to disk.
type SyncMode int

const (
	SyncEveryCommit SyncMode = iota
	SyncBytes
	SyncOff
)

// EntryKind is the journal entry kind, per §6.
type EntryKind uint8

const (
	EntryBtreeKeys EntryKind = 1
	EntryBtreeRoot EntryKind = 2
)

// EntryHeaderSize: [Kind:1][Seq:8][BtreeID:1][Len:4][Data:N]
const EntryHeaderSize = 1 + 8 + 1 + 4

// Entry is a single decoded journal entry.
type Entry struct {
	Kind    EntryKind
	Seq     uint64
	BtreeID base.BtreeID
	Data    []byte
}

// Journal is the append-only log backing journal_preres_get/pin tracking.
// Record framing and direct-I/O alignment are grounded on the teacher's
// write-ahead log; the preres/pin machinery layered on top has no teacher
// equivalent (fredb commits synchronously, no pre-reservation).
type Journal struct {
	file   *os.File
	mu     sync.Mutex
	offset int64

	syncMode       SyncMode
	bytesPerSync   int
	bytesSinceSync int

	bufPool *sync.Pool

	seq atomic.Uint64

	// preres is the outstanding pre-reservation ledger: bytes promised to
	// in-flight updates but not yet committed.
	preresMu  sync.Mutex
	preresCap int
	preresUse int

	// pins track the oldest journal seq each live pin depends on, so
	// reclaim never crosses a pending topology change. Grounded on
	// internal/lifecycle/readslots.go's O(1) cached-min pattern, adapted
	// from reader tx ids to pin sequence numbers.
	pins *PinSet

	erroredFlag atomic.Bool
}

func New(path string, syncMode SyncMode, bytesPerSync int, preresCap int) (*Journal, error) {
	file, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Journal{
		file:   file,
		offset: info.Size(),
		bufPool: &sync.Pool{
			New: func() interface{} {
				return directio.AlignedBlock(directio.BlockSize * 2)
			},
		},
		syncMode:     syncMode,
		bytesPerSync: bytesPerSync,
		preresCap:    preresCap,
		pins:         NewPinSet(),
	}, nil
}

// Error reports whether the journal is in a permanent error state, in
// which case no new updates may start (§5's "journal_error state
// short-circuits all new starts").
func (j *Journal) Error() error {
	if j.erroredFlag.Load() {
		return base.ErrJournalError
	}
	return nil
}

func (j *Journal) SetErrored() {
	j.erroredFlag.Store(true)
}

// PreresGet reserves nBytes of future journal space. It never waits: when
// the ledger is full it returns ErrWouldBlock with nonblock, and
// ErrNoSpaceJournal without it.
func (j *Journal) PreresGet(nBytes int, nonblock bool) error {
	if err := j.Error(); err != nil {
		return err
	}
	j.preresMu.Lock()
	defer j.preresMu.Unlock()

	if j.preresUse+nBytes > j.preresCap {
		if nonblock {
			return base.ErrWouldBlock
		}
		return base.ErrNoSpaceJournal
	}
	j.preresUse += nBytes
	return nil
}

// PreresPut returns nBytes of pre-reserved space, e.g. when an update's
// actual journal payload was smaller than reserved or the update aborted.
func (j *Journal) PreresPut(nBytes int) {
	j.preresMu.Lock()
	j.preresUse -= nBytes
	if j.preresUse < 0 {
		j.preresUse = 0
	}
	j.preresMu.Unlock()
}

// NextSeq allocates the journal sequence number the next entry will be
// written under.
func (j *Journal) NextSeq() uint64 {
	return j.seq.Add(1)
}

// PinCopy takes one more reference on the pin at fromSeq for a new holder
// and returns fromSeq, the "journal pin transfer" half of reparenting
// (§4.3).
func (j *Journal) PinCopy(fromSeq uint64) uint64 {
	j.pins.Add(fromSeq)
	return fromSeq
}

// PinDrop releases a pin previously acquired at seq.
func (j *Journal) PinDrop(seq uint64) {
	j.pins.Remove(seq)
}

// PinFlush returns the seq of the oldest live pin (0 if none). Truncate
// refuses to discard entries at or above that seq.
func (j *Journal) PinFlush() uint64 {
	return j.pins.Min()
}

// AppendEntry writes one journal entry (btree_keys or btree_root).
// Records are padded to BlockSize*2 for direct-I/O alignment, mirroring
// the teacher's AppendPage framing.
func (j *Journal) AppendEntry(kind EntryKind, seq uint64, btreeID base.BtreeID, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	writeSize := directio.BlockSize * 2
	need := EntryHeaderSize + len(data)
	if need > writeSize {
		writeSize = ((need + directio.BlockSize - 1) / directio.BlockSize) * directio.BlockSize
	}

	buf := directio.AlignedBlock(writeSize)
	buf[0] = uint8(kind)
	binary.LittleEndian.PutUint64(buf[1:9], seq)
	buf[9] = uint8(btreeID)
	binary.LittleEndian.PutUint32(buf[10:14], uint32(len(data)))
	copy(buf[EntryHeaderSize:], data)

	if _, err := j.file.Write(buf); err != nil {
		return err
	}
	j.offset += int64(writeSize)
	j.bytesSinceSync += writeSize
	return nil
}

func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.syncMode {
	case SyncEveryCommit:
		return j.syncUnsafe()
	case SyncBytes:
		if j.bytesSinceSync >= j.bytesPerSync {
			return j.syncUnsafe()
		}
		return nil
	case SyncOff:
		return nil
	default:
		return fmt.Errorf("unknown journal sync mode: %d", j.syncMode)
	}
}

func (j *Journal) ForceSync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.syncUnsafe()
}

func (j *Journal) syncUnsafe() error {
	if err := j.file.Sync(); err != nil {
		return err
	}
	j.bytesSinceSync = 0
	return nil
}

// Replay reads every entry with seq > fromSeq and invokes applyFn in
// order. Filesystem.recover calls it at mount.
func (j *Journal) Replay(fromSeq uint64, applyFn func(Entry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	header := make([]byte, EntryHeaderSize)
	for {
		n, err := j.file.Read(header)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("journal replay read error: %w", err)
		}
		if n != EntryHeaderSize {
			return fmt.Errorf("journal replay: short header read: %d bytes", n)
		}

		kind := EntryKind(header[0])
		seq := binary.LittleEndian.Uint64(header[1:9])
		btreeID := base.BtreeID(header[9])
		dataLen := binary.LittleEndian.Uint32(header[10:14])

		data := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := io.ReadFull(j.file, data); err != nil {
				return fmt.Errorf("journal replay: failed to read entry data: %w", err)
			}
		}

		recordSize := EntryHeaderSize + int(dataLen)
		aligned := ((recordSize + directio.BlockSize - 1) / directio.BlockSize) * directio.BlockSize
		if aligned < directio.BlockSize*2 {
			aligned = directio.BlockSize * 2
		}
		padding := aligned - recordSize
		if padding > 0 {
			if _, err := j.file.Seek(int64(padding), io.SeekCurrent); err != nil {
				return fmt.Errorf("journal replay: failed to skip padding: %w", err)
			}
		}

		if seq > fromSeq {
			if err := applyFn(Entry{Kind: kind, Seq: seq, BtreeID: btreeID, Data: data}); err != nil {
				return fmt.Errorf("journal replay: apply failed for seq %d: %w", seq, err)
			}
		}
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Truncate discards entries up to the given seq, once the caller has
// confirmed no live pin still depends on them.
func (j *Journal) Truncate(upToSeq uint64) error {
	if min := j.pins.Min(); min != 0 && min <= upToSeq {
		return fmt.Errorf("journal truncate: live pin at seq %d blocks reclaim up to %d", min, upToSeq)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	header := make([]byte, EntryHeaderSize)
	truncateOffset := int64(0)

	for {
		currentOffset, _ := j.file.Seek(0, io.SeekCurrent)

		n, err := j.file.Read(header)
		if err == io.EOF {
			truncateOffset = currentOffset
			break
		}
		if err != nil {
			return fmt.Errorf("journal truncate read error: %w", err)
		}
		if n != EntryHeaderSize {
			return fmt.Errorf("journal truncate: short header read")
		}

		seq := binary.LittleEndian.Uint64(header[1:9])
		dataLen := binary.LittleEndian.Uint32(header[10:14])

		recordSize := EntryHeaderSize + int(dataLen)
		aligned := ((recordSize + directio.BlockSize - 1) / directio.BlockSize) * directio.BlockSize
		if aligned < directio.BlockSize*2 {
			aligned = directio.BlockSize * 2
		}
		if _, err := j.file.Seek(int64(aligned-EntryHeaderSize), io.SeekCurrent); err != nil {
			return err
		}

		if seq > upToSeq {
			truncateOffset = currentOffset
			break
		}
	}

	if err := j.file.Truncate(truncateOffset); err != nil {
		return err
	}
	newSize, err := j.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	j.offset = newSize
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

package alloc

import (
	"sync"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/storage"
)

// WritePoint is a per-device cursor into free space. AllocSectorsStart
// walks write points round-robin across devices to pick the replica set
// for one extent, per §4.1 and the "sector allocator" collaborator in §6.
type WritePoint struct {
	dev           *storage.Device
	bucketSectors uint64

	mu        sync.Mutex
	cursor    uint64 // next free sector offset within the current bucket
	bucket    uint64 // current bucket index
	freeUpTo  uint64 // buckets below this index are marked zero-free

	openBuckets *openBucketTable
}

func NewWritePoint(dev *storage.Device) *WritePoint {
	return &WritePoint{
		dev:           dev,
		bucketSectors: dev.BucketSectors(),
		openBuckets:   newOpenBucketTable(),
	}
}

// AllocSectorsStart reserves nSectors of space for a single replica on
// this write point's device, retrying into the next bucket when the
// current one has fewer than nSectors free — the "buckets below threshold
// are marked zero-free and the allocation is retried" rule from §4.1.
func (wp *WritePoint) AllocSectorsStart(nSectors uint32, class ReserveClass) (base.Ptr, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for {
		remaining := wp.bucketSectors - wp.cursor
		if remaining >= uint64(nSectors) {
			break
		}
		// Current bucket can't fit the extent; mark it exhausted and
		// advance, enforcing the reserve class gate against the device's
		// total bucket count.
		wp.freeUpTo = wp.bucket + 1
		wp.bucket++
		wp.cursor = 0
		if wp.bucket >= wp.dev.NumBuckets() {
			if class == ReserveNone {
				return base.Ptr{}, base.ErrNoSpaceDisk
			}
			// Reserve classes BTREE/ALLOC are allowed to wrap and reuse
			// from the start once ordinary allocation is exhausted.
			wp.bucket = 0
		}
	}

	offset := wp.bucket*wp.bucketSectors + wp.cursor
	wp.cursor += uint64(nSectors)

	wp.openBuckets.Get(wp.dev.Index(), wp.bucket)
	return base.Ptr{Dev: wp.dev.Index(), Gen: 0, Offset: offset}, nil
}

// ReleaseBuckets drops the open-bucket reference this write point holds
// for each ref, the open_buckets_put half of the allocator contract.
func (wp *WritePoint) ReleaseBuckets(refs []base.OpenBucketRef) {
	for _, r := range refs {
		wp.openBuckets.Put(r.Dev, r.Bucket)
	}
}

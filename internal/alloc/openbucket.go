package alloc

import "sync"

// OpenBucket is a short-term reservation pinning a bucket against reuse
// while a node write is in flight, reference-counted because one bucket
// may back several in-flight node writes on the same device.
type OpenBucket struct {
	Dev    uint8
	Bucket uint64
	refs   int32
}

// openBucketTable tracks live OpenBuckets per (dev, bucket) key so
// ReleaseBuckets can find and decrement the right one.
type openBucketTable struct {
	mu      sync.Mutex
	buckets map[obKey]*OpenBucket
}

type obKey struct {
	dev    uint8
	bucket uint64
}

func newOpenBucketTable() *openBucketTable {
	return &openBucketTable{buckets: make(map[obKey]*OpenBucket)}
}

// Get increments the refcount for (dev, bucket), creating the entry if
// this is the first reference.
func (t *openBucketTable) Get(dev uint8, bucket uint64) *OpenBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := obKey{dev, bucket}
	ob, ok := t.buckets[k]
	if !ok {
		ob = &OpenBucket{Dev: dev, Bucket: bucket}
		t.buckets[k] = ob
	}
	ob.refs++
	return ob
}

// Put decrements the refcount, removing the entry once it reaches zero —
// the point at which the bucket becomes eligible for reuse.
func (t *openBucketTable) Put(dev uint8, bucket uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := obKey{dev, bucket}
	ob, ok := t.buckets[k]
	if !ok {
		return
	}
	ob.refs--
	if ob.refs <= 0 {
		delete(t.buckets, k)
	}
}

package bcachefs

import "github.com/kode54/bcachefs-tools/internal/journal"

// SyncMode controls when the journal is fsynced to disk.
type SyncMode int

const (
	// SyncEveryCommit fsyncs on every journal commit. Uses direct I/O.
	SyncEveryCommit SyncMode = iota

	// SyncBytes fsyncs once at least N bytes have been written since the
	// last fsync.
	SyncBytes

	// SyncOff disables fsync entirely (testing/bulk loads only).
	SyncOff
)

func (m SyncMode) toJournal() journal.SyncMode {
	switch m {
	case SyncBytes:
		return journal.SyncBytes
	case SyncOff:
		return journal.SyncOff
	default:
		return journal.SyncEveryCommit
	}
}

// FilesystemOptions configures a Filesystem's ambient behavior: journal
// durability, cache sizing, replica count, and finalizer concurrency.
type FilesystemOptions struct {
	syncMode     SyncMode
	syncBytes    uint
	maxCacheSize int // node cache capacity, in entries

	replicas int // metadata replica count

	btreeNodeSectors uint32
	btreeBytes       int

	journalPreresCap         int
	maxConcurrentFinalizers  int
	v2Pointers               bool

	logger Logger
}

// DefaultFilesystemOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultFilesystemOptions() FilesystemOptions {
	return FilesystemOptions{
		syncMode:                SyncEveryCommit,
		syncBytes:               1024 * 1024,
		maxCacheSize:            4096,
		replicas:                1,
		btreeNodeSectors:        256,
		btreeBytes:              128 * 1024,
		journalPreresCap:        16 * 1024 * 1024,
		maxConcurrentFinalizers: 8,
		v2Pointers:              true,
		logger:                  DiscardLogger{},
	}
}

// FilesystemOption configures FilesystemOptions using the functional
// options pattern.
type FilesystemOption func(*FilesystemOptions)

//goland:noinspection GoUnusedExportedFunction
func WithSyncEveryCommit() FilesystemOption {
	return func(o *FilesystemOptions) { o.syncMode = SyncEveryCommit }
}

//goland:noinspection GoUnusedExportedFunction
func WithSyncOff() FilesystemOption {
	return func(o *FilesystemOptions) { o.syncMode = SyncOff }
}

//goland:noinspection GoUnusedExportedFunction
func WithMaxCacheSize(entries int) FilesystemOption {
	return func(o *FilesystemOptions) { o.maxCacheSize = entries }
}

//goland:noinspection GoUnusedExportedFunction
func WithReplicas(n int) FilesystemOption {
	return func(o *FilesystemOptions) { o.replicas = n }
}

//goland:noinspection GoUnusedExportedFunction
func WithBtreeNodeSectors(n uint32) FilesystemOption {
	return func(o *FilesystemOptions) { o.btreeNodeSectors = n }
}

//goland:noinspection GoUnusedExportedFunction
func WithMaxConcurrentFinalizers(n int) FilesystemOption {
	return func(o *FilesystemOptions) { o.maxConcurrentFinalizers = n }
}

//goland:noinspection GoUnusedExportedFunction
func WithV2Pointers(enabled bool) FilesystemOption {
	return func(o *FilesystemOptions) { o.v2Pointers = enabled }
}

//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) FilesystemOption {
	return func(o *FilesystemOptions) { o.logger = l }
}

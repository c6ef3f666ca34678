package base

import "errors"

var (
	ErrInvalidOffset      = errors.New("invalid offset: out of bounds")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid format version")
	ErrInvalidPageSize    = errors.New("invalid page size")
	ErrInvalidChecksum    = errors.New("invalid checksum")
	ErrPageOverflow       = errors.New("node overflow: keys do not fit in btree_bytes")

	// ErrNoSpaceDisk is returned when the sector allocator has no free space
	// for a reservation.
	ErrNoSpaceDisk = errors.New("no space: disk reservation denied")
	// ErrNoSpaceJournal is returned when the journal has no room for a
	// pre-reservation.
	ErrNoSpaceJournal = errors.New("no space: journal pre-reservation denied")
	// ErrWouldBlock is returned by a NOWAIT acquisition that chose not to wait.
	ErrWouldBlock = errors.New("would block")
	// ErrInterrupted is returned when a caller must restart its transaction
	// after dropping its lock snapshot.
	ErrInterrupted = errors.New("interrupted: restart transaction")
	// ErrJournalError is permanent: no new updates may start.
	ErrJournalError = errors.New("journal error: filesystem is read-only")
)

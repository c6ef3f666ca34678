package bcachefs

import (
	"errors"

	"github.com/kode54/bcachefs-tools/internal/base"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrFilesystemClosed = errors.New("filesystem is closed")
	ErrCorruption        = errors.New("data corruption detected")

	ErrNoSpaceDisk    = base.ErrNoSpaceDisk
	ErrNoSpaceJournal = base.ErrNoSpaceJournal
	ErrWouldBlock     = base.ErrWouldBlock
	ErrInterrupted    = base.ErrInterrupted
	ErrJournalError   = base.ErrJournalError

	ErrPageOverflow       = base.ErrPageOverflow
	ErrInvalidOffset      = base.ErrInvalidOffset
	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
)

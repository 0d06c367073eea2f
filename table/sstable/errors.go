package sstable

import "github.com/pingcap/errors"

// Structural errors a table open or parse can fail with, per the error
// taxonomy: fatal for the table they name, never retried.
var (
	ErrInvalidFileSize   = errors.New("sstable: invalid file size")
	ErrInvalidMagicNumber = errors.New("sstable: invalid magic number")
	ErrInvalidChecksum   = errors.New("sstable: invalid checksum")
	ErrInvalidFileName   = errors.New("sstable: invalid file name")
	ErrCorruption        = errors.New("sstable: corruption")
)

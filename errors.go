package smht

import "errors"

var (
	// ErrInvalidGeometry is returned when keyCount, dataCount or
	// blockSize is non-positive.
	ErrInvalidGeometry = errors.New("smht: keyCount, dataCount and blockSize must be positive")
	// ErrSegmentSize is returned when an existing segment was opened
	// with a geometry that does not match the one requested: the
	// header table, bitmap and arena layouts are only meaningful if
	// every attacher agrees on key_count/data_count/block_size.
	ErrSegmentSize = errors.New("smht: existing segment geometry does not match requested keyCount/dataCount/blockSize")
	// ErrKeyTooLarge is logged by Set when a key or value, once NUL
	// terminated, would not fit in the data arena no matter how much
	// of it were free; Set still reports failure the same way it does
	// for ordinary out-of-space, by returning false, matching the
	// boolean-only failure signature spec.md §6.2 documents.
	ErrKeyTooLarge = errors.New("smht: key/value payload larger than the entire data arena")
	// ErrClosed is logged by Set/Get/Unset/Clear when called on a
	// Table whose segment has already been closed; each still reports
	// failure through its own documented return (false, "", 0, or a
	// silent no-op for Clear) rather than an error return, since none
	// of these operations' public signatures carry one.
	ErrClosed = errors.New("smht: table is closed")
)

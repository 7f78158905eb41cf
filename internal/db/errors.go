package db

import "errors"

var (
	// ErrKeyNotFound is returned by Get for a missing or expired key.
	ErrKeyNotFound = errors.New("db: key not found")
	// ErrIndexNotFound is returned when dropping an index that does not exist.
	ErrIndexNotFound = errors.New("db: index not found")
	// ErrIndexExists is returned when creating an index that already exists.
	ErrIndexExists = errors.New("db: index already exists")
)

// Command names reported in Error.Op.
const (
	OpCreateIndex = "FT.CREATE"
	OpDropIndex   = "FT.DROPINDEX"
	OpIndexInfo   = "FT.INFO"
	OpSearch      = "FT.SEARCH"
	OpDel         = "UNLINK"
	OpHGetAll     = "HGETALL"
	OpHSet        = "HSET"
	OpScan        = "SCAN"
	OpGet         = "GET"
	OpSet         = "SET"
)

// Error is a failed store command. Key is empty for commands that span keys.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

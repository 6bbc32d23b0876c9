package storage

import "errors"

// StorageError reports a failure of the persistence medium. It is the only
// error kind the store returns; Err is the driver error, unaltered.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err, or anything it wraps, is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

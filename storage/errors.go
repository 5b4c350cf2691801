package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrLotNotFound is returned by updates that matched no row
var ErrLotNotFound = errors.New("lot not found")

// StoreError wraps a failed catalog write or read. Key is the external id or
// row id involved, when there is one.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLotNotFound
	}
	return nil
}

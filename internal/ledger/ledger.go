// Package ledger persists prepaid user balances keyed by EVM address and
// offers atomic credit/debit primitives. Balances are held as uint64
// micro-units of the settlement asset (USDC, 6 decimals); decimal strings
// appear only at the edges.
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
)

// UserRecord is the value stored per address.
type UserRecord struct {
	// Balance in micro-units (1 USDC = 1_000_000).
	Balance uint64
	// LatestTimestamp is the unix-seconds of the last successful debit.
	LatestTimestamp uint64
}

// Ledger is the capability set the admission pipeline needs. Credit and
// Debit are linearizable per address: concurrent debits against the same
// address never drive the balance below zero, and each observes the balance
// the previous writer left.
type Ledger interface {
	// Get returns the record for an address, or found=false if the address
	// has never been written.
	Get(ctx context.Context, address string) (UserRecord, bool, error)

	// Credit adds amount micro-units, creating the record if missing, and
	// returns the new balance. Fails only on storage errors.
	Credit(ctx context.Context, address string, amount uint64) (uint64, error)

	// Debit subtracts amount micro-units and stamps the record with
	// timestamp, returning the remaining balance. Returns
	// InsufficientBalanceError when the balance is short.
	Debit(ctx context.Context, address string, amount uint64, timestamp uint64) (uint64, error)

	Close() error
}

// InsufficientBalanceError reports a debit larger than the stored balance.
// Amounts are micro-units.
type InsufficientBalanceError struct {
	Has  uint64
	Need uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: has %d, need %d", e.Has, e.Need)
}

// StorageError wraps a backend I/O failure.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SerializationError reports a stored value that does not decode.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// AttributeError reports a missing item attribute in the remote backend.
type AttributeError struct {
	Name string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("attribute not found: %s", e.Name)
}

// ParseError reports an attribute value that does not parse as a number.
type ParseError struct {
	Name  string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s=%q", e.Name, e.Value)
}

const recordSize = 16

// EncodeRecord renders a UserRecord as two consecutive little-endian
// uint64s: balance, then timestamp. The format is fixed; stored records
// must decode forever.
func EncodeRecord(record UserRecord) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint64(buf[0:8], record.Balance)
	binary.LittleEndian.PutUint64(buf[8:16], record.LatestTimestamp)
	return buf
}

// DecodeRecord parses an encoded UserRecord.
func DecodeRecord(data []byte) (UserRecord, error) {
	if len(data) != recordSize {
		return UserRecord{}, &SerializationError{Err: fmt.Errorf("expected %d bytes, got %d", recordSize, len(data))}
	}
	return UserRecord{
		Balance:         binary.LittleEndian.Uint64(data[0:8]),
		LatestTimestamp: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

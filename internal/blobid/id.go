// Package blobid generates and validates the identifiers under which
// uploaded images are stored.
package blobid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// ID is a 12-byte unique identifier rendered as 24 hexadecimal characters.
//
// Layout:
//   - 4 bytes: timestamp (seconds since epoch)
//   - 3 bytes: machine identifier
//   - 2 bytes: process id
//   - 3 bytes: atomically incremented counter
//
// Uniqueness holds across time, machines, processes, and multiple IDs
// generated within the same second.
type ID [12]byte

// EncodedLen is the length of an ID in its hexadecimal string form.
const EncodedLen = 24

// ErrInvalid reports an identifier that cannot be parsed.
var ErrInvalid = errors.New("invalid blob id")

var (
	machineID = readMachineID()
	counter   = readRandomUint32()
)

func readMachineID() [3]byte {
	var mid [3]byte
	hostname, err := os.Hostname()
	if err != nil {
		_, _ = io.ReadFull(rand.Reader, mid[:])
		return mid
	}
	sum := sha256.Sum256([]byte(hostname))
	copy(mid[:], sum[:3])
	return mid
}

func readRandomUint32() uint32 {
	var b [4]byte
	_, _ = io.ReadFull(rand.Reader, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// New generates a unique ID.
func New() ID {
	var id ID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], machineID[:])
	binary.BigEndian.PutUint16(id[7:9], uint16(os.Getpid()))

	c := atomic.AddUint32(&counter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// Parse validates s as a 24-hex-character identifier. Anything else fails
// with ErrInvalid.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != EncodedLen {
		return id, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	copy(id[:], raw)
	return id, nil
}

// String renders the ID as 24 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

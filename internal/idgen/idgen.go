// Package idgen generates sortable, opaque entity identifiers (ULID-class,
// per spec §3). Ids are lexicographically sortable by creation time, which
// lets repository queries order by id as a stable tie-break on created_at.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// crockford is the Crockford base32 alphabet used by ULID.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	mu       sync.Mutex
	lastMs   int64
	lastRand [10]byte
)

// New returns a new 26-character ULID-class id, monotonic within a process:
// two ids generated in the same millisecond still sort in call order.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	ms := time.Now().UnixMilli()
	var random [10]byte
	if ms == lastMs && incrementable(lastRand) {
		random = increment(lastRand)
	} else {
		if _, err := rand.Read(random[:]); err != nil {
			// crypto/rand failure is pathological; fall back to a uuid-derived
			// byte source rather than panicking.
			u := uuid.New()
			copy(random[:], u[:10])
		}
	}
	lastMs = ms
	lastRand = random

	return encode(ms, random)
}

// NewFallback returns a UUIDv7-class id. Kept as a documented fallback path
// (see SPEC_FULL.md domain stack table) for callers that need RFC 4122
// compatibility instead of ULID's Crockford base32 alphabet.
func NewFallback() string {
	if u, err := uuid.NewV7(); err == nil {
		return u.String()
	}
	return uuid.New().String()
}

func incrementable(b [10]byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return true
		}
	}
	return false
}

func increment(b [10]byte) [10]byte {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			b[i]++
			break
		}
		b[i] = 0
	}
	return b
}

func encode(ms int64, random [10]byte) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(ms)<<16)
	copy(buf[6:16], random[:])

	var sb strings.Builder
	sb.Grow(26)

	// Timestamp: 48 bits -> 10 chars.
	ts := uint64(ms)
	var tsChars [10]byte
	for i := 9; i >= 0; i-- {
		tsChars[i] = crockford[ts&0x1F]
		ts >>= 5
	}
	sb.Write(tsChars[:])

	// Randomness: 80 bits -> 16 chars.
	var bits uint64
	var nbits uint
	bi := 0
	for i := 0; i < 16; i++ {
		for nbits < 5 && bi < len(random) {
			bits = (bits << 8) | uint64(random[bi])
			nbits += 8
			bi++
		}
		if nbits < 5 {
			bits <<= 5 - nbits
			nbits = 5
		}
		shift := nbits - 5
		idx := (bits >> shift) & 0x1F
		sb.WriteByte(crockford[idx])
		nbits -= 5
	}

	return sb.String()
}

// Prefixed returns a New() id with a short component-type prefix, useful for
// human-readable ids in logs (e.g. "agt_01J...", "obj_01J...").
func Prefixed(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, New())
}

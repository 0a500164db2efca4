// Package decode turns raw oracle account bytes into validated
// domain.Reading values. Each source kind (PRIMARY, SECONDARY) has its own
// binary layout; both share the post-decode sanity checks of spec §4.1.
package decode

import (
	"encoding/binary"
	"time"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

// Decoder maps a raw account byte buffer plus a feed identifier to a
// validated Reading. Implementations are stateless and safe for concurrent
// use from many poll loops.
type Decoder interface {
	Decode(raw []byte, feedID string, symbol string) (domain.Reading, error)
}

const (
	maxStalenessHardCeilingSecs = 300
	minPlausibleValue           = 1e-4
	maxPlausibleValue           = 1e7
)

// sanityCheck applies the post-decode checks common to every decoder: a
// positive price, a non-future timestamp, a hard staleness ceiling (finer
// staleness is enforced later by the scheduler against SymbolSpec), and a
// plausible rescaled value range.
func sanityCheck(r domain.Reading, now time.Time) error {
	if r.Price <= 0 {
		return domain.NewDecodeError(domain.DecodeNonPositive, "price must be > 0")
	}
	if r.Timestamp > now.Unix() {
		return domain.NewDecodeError(domain.DecodeFutureTimestamp, "timestamp is in the future")
	}
	if now.Unix()-r.Timestamp > maxStalenessHardCeilingSecs {
		return domain.NewDecodeError(domain.DecodeStale, "older than the 300s hard ceiling")
	}
	v := r.Value()
	if v < minPlausibleValue || v > maxPlausibleValue {
		return domain.NewDecodeError(domain.DecodeOutOfRange, "rescaled value out of plausible range")
	}
	return nil
}

func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func le64u(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func le64i(b []byte) int64  { return int64(binary.LittleEndian.Uint64(b)) }
func le32i(b []byte) int32  { return int32(binary.LittleEndian.Uint32(b)) }

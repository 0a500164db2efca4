package decode

import (
	"bytes"
	"time"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

var secondaryDiscriminator = [8]byte{217, 230, 65, 101, 201, 162, 27, 125}

// Oracle account offsets for the SECONDARY (aggregator-style) source kind,
// per spec §4.1.
const (
	secondaryMinLen          = 256
	secondaryDiscOff         = 0
	secondaryMantissaOff     = 144
	secondaryScaleOff        = 152
	secondaryTimestampOff    = 200
	secondaryMinResponseOff  = 208
	secondaryMaxResponseOff  = 216
)

// SecondaryDecoder decodes the aggregator-style SECONDARY oracle account
// record.
type SecondaryDecoder struct {
	Now func() time.Time
}

func NewSecondaryDecoder() *SecondaryDecoder {
	return &SecondaryDecoder{Now: time.Now}
}

func (d *SecondaryDecoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *SecondaryDecoder) Decode(raw []byte, feedID string, symbol string) (domain.Reading, error) {
	if len(raw) < secondaryMinLen {
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeTooShort, "secondary record shorter than 256 bytes")
	}
	if !bytes.Equal(raw[secondaryDiscOff:secondaryDiscOff+8], secondaryDiscriminator[:]) {
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeBadDiscriminator, "discriminator mismatch")
	}

	mantissa := le64i(raw[secondaryMantissaOff : secondaryMantissaOff+8])
	scale := le32(raw[secondaryScaleOff : secondaryScaleOff+4])
	expo := -int32(scale)

	timestamp := le64i(raw[secondaryTimestampOff : secondaryTimestampOff+8])
	minResponse := le64i(raw[secondaryMinResponseOff : secondaryMinResponseOff+8])
	maxResponse := le64i(raw[secondaryMaxResponseOff : secondaryMaxResponseOff+8])

	confidence := saturatingHalfAbsDiff(maxResponse, minResponse)

	r := domain.Reading{
		Price:      mantissa,
		Confidence: confidence,
		Expo:       expo,
		Timestamp:  timestamp,
		Source:     domain.SourceSecondary,
		Symbol:     symbol,
	}

	if err := sanityCheck(r, d.now()); err != nil {
		return domain.Reading{}, err
	}
	return r, nil
}

// saturatingHalfAbsDiff computes |a-b|/2 as a u64, saturating to
// math.MaxUint64 rather than wrapping on overflow.
func saturatingHalfAbsDiff(a, b int64) uint64 {
	var diff int64
	if a >= b {
		diff = a - b
	} else {
		diff = b - a
	}
	if diff < 0 {
		// a-b overflowed int64; treat as maximal spread.
		return ^uint64(0)
	}
	return uint64(diff) / 2
}

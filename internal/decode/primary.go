package decode

import (
	"time"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

const primaryMagic uint32 = 0xa1b2c3d4

// Oracle account offsets for the PRIMARY source kind, per spec §4.1.
const (
	primaryMinLen        = 240
	primaryMagicOff      = 0
	primaryVersionOff    = 4
	primaryPriceOff      = 208
	primaryConfidenceOff = 216
	primaryExpoOff       = 224
	primaryTimestampOff  = 228
	primaryStatusOff     = 236
)

// trading status values in the PRIMARY account layout.
const (
	primaryStatusUnknown uint32 = 0
	primaryStatusTrading uint32 = 1
	primaryStatusHalted  uint32 = 2
)

// PrimaryDecoder decodes the fixed-layout PRIMARY oracle account record.
type PrimaryDecoder struct {
	// Now is overridable for tests; defaults to time.Now when nil.
	Now func() time.Time
}

func NewPrimaryDecoder() *PrimaryDecoder {
	return &PrimaryDecoder{Now: time.Now}
}

func (d *PrimaryDecoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *PrimaryDecoder) Decode(raw []byte, feedID string, symbol string) (domain.Reading, error) {
	if len(raw) < primaryMinLen {
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeTooShort, "primary record shorter than 240 bytes")
	}
	if le32(raw[primaryMagicOff:primaryMagicOff+4]) != primaryMagic {
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeBadMagic, "magic mismatch")
	}
	version := le32(raw[primaryVersionOff : primaryVersionOff+4])
	if version < 2 {
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeUnsupportedVersion, "version < 2")
	}

	status := le32(raw[primaryStatusOff : primaryStatusOff+4])
	switch status {
	case primaryStatusTrading:
		// proceed
	case primaryStatusUnknown:
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeStatusUnknown, "status unknown")
	case primaryStatusHalted:
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeHalted, "trading halted")
	default:
		return domain.Reading{}, domain.NewDecodeError(domain.DecodeBadStatus, "unrecognized status code")
	}

	r := domain.Reading{
		Price:      le64i(raw[primaryPriceOff : primaryPriceOff+8]),
		Confidence: le64u(raw[primaryConfidenceOff : primaryConfidenceOff+8]),
		Expo:       le32i(raw[primaryExpoOff : primaryExpoOff+4]),
		Timestamp:  le64i(raw[primaryTimestampOff : primaryTimestampOff+8]),
		Source:     domain.SourcePrimary,
		Symbol:     symbol,
	}

	if err := sanityCheck(r, d.now()); err != nil {
		return domain.Reading{}, err
	}
	return r, nil
}

package file

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"strings"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

// On-disk layout (all fields big-endian):
//
// Header:
//   - 8 bytes file marker
//   - 8 bytes data offset (byte offset of the first record)
//   - 8 bytes file version
//   - 8 bytes detail level id
//   - 8 bytes start time
//   - 8 bytes end time
//   - 8 bytes proposed data age
//   - 8 bytes accepted time delta
//   - 8 bytes data type
//   - 8 bytes calculation method id
//   - 4 bytes calculation method parameter count
//   - 4 bytes configuration id byte length
//   - 8 bytes per calculation method parameter
//   - configuration id, UTF-8
//   - 4 bytes CRC32 over everything after the marker
//
// Record (recordSize bytes):
//   - 8 bytes time
//   - 8 bytes quality indicator (IEEE-754 bits)
//   - 8 bytes manual indicator (IEEE-754 bits)
//   - 8 bytes base value count
//   - 8 bytes value payload
//   - 1 byte LRC
const (
	// fileMarker identifies file types that can be handled by this
	// package.
	fileMarker = 0x0a2d04b20b580ca9

	// fileVersion is the supported format version. Files carrying any
	// other version are refused.
	fileVersion = 1

	// recordSize is the size of one data record in the file.
	recordSize = 8 + 8 + 8 + 8 + 8 + 1

	// lrcSeed is the seed value for the parity calculation of data
	// records.
	lrcSeed = 0x5a

	// maxCopyBufferFillSize bounds the buffer when moving data within
	// a file.
	maxCopyBufferFillSize = 1024 * 1024

	// minHeaderSize is the smallest possible header: no calculation
	// method parameters and an empty configuration id.
	minHeaderSize = 11*8 + 4
)

// headerSize returns the total header length for the given metadata,
// which equals the data offset of the file.
func headerSize(paramCount, configIDLen int) int64 {
	return int64((11+paramCount)*8 + configIDLen + 4)
}

// encodeHeader serializes the metadata into a complete file header
// including marker and trailing checksum.
func encodeHeader(meta *types.Metadata) []byte {
	configID := []byte(meta.ConfigurationID)
	dataOffset := headerSize(len(meta.MethodParameters), len(configID))

	buf := make([]byte, 0, dataOffset)
	buf = binary.BigEndian.AppendUint64(buf, fileMarker)
	buf = binary.BigEndian.AppendUint64(buf, uint64(dataOffset))
	buf = binary.BigEndian.AppendUint64(buf, fileVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.DetailLevelID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.StartTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.EndTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.ProposedDataAge))
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.AcceptedTimeDelta))
	buf = binary.BigEndian.AppendUint64(buf, uint64(int64(meta.DataType)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(meta.Method.ID()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(meta.MethodParameters)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(configID)))
	for _, p := range meta.MethodParameters {
		buf = binary.BigEndian.AppendUint64(buf, uint64(p))
	}
	buf = append(buf, configID...)

	// The checksum covers everything after the marker.
	sum := crc32.ChecksumIEEE(buf[8:])
	buf = binary.BigEndian.AppendUint32(buf, sum)
	return buf
}

// decodeHeader parses and validates a header prefix read from a file.
// The passed buffer must hold at least the fixed header fields; the
// caller supplies the full header once the data offset is known.
func decodeHeader(buf []byte) (*types.Metadata, int64, error) {
	if len(buf) < 16 {
		return nil, 0, errTooSmall
	}
	if binary.BigEndian.Uint64(buf[0:8]) != fileMarker {
		return nil, 0, errBadMarker
	}
	dataOffset := int64(binary.BigEndian.Uint64(buf[8:16]))
	if dataOffset < minHeaderSize || int64(len(buf)) < dataOffset {
		return nil, dataOffset, errShortHeader
	}
	if v := int64(binary.BigEndian.Uint64(buf[16:24])); v != fileVersion {
		return nil, dataOffset, errBadVersion
	}

	meta := &types.Metadata{
		DetailLevelID:     int64(binary.BigEndian.Uint64(buf[24:32])),
		StartTime:         int64(binary.BigEndian.Uint64(buf[32:40])),
		EndTime:           int64(binary.BigEndian.Uint64(buf[40:48])),
		ProposedDataAge:   int64(binary.BigEndian.Uint64(buf[48:56])),
		AcceptedTimeDelta: int64(binary.BigEndian.Uint64(buf[56:64])),
		DataType:          types.ParseDataType(int64(binary.BigEndian.Uint64(buf[64:72]))),
		Method:            types.ParseMethodID(int64(binary.BigEndian.Uint64(buf[72:80]))),
	}
	if meta.StartTime >= meta.EndTime {
		return nil, dataOffset, errBadTimespan
	}

	paramCount := int(binary.BigEndian.Uint32(buf[80:84]))
	configIDLen := int(binary.BigEndian.Uint32(buf[84:88]))
	if paramCount < 0 || configIDLen < 0 || headerSize(paramCount, configIDLen) != dataOffset {
		return nil, dataOffset, errBadOffset
	}

	pos := 88
	if paramCount > 0 {
		meta.MethodParameters = make([]int64, paramCount)
		for i := range meta.MethodParameters {
			meta.MethodParameters[i] = int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
			pos += 8
		}
	}
	// NUL bytes are stripped on read; older tools padded the id.
	meta.ConfigurationID = strings.ReplaceAll(string(buf[pos:pos+configIDLen]), "\x00", "")
	pos += configIDLen

	sum := crc32.ChecksumIEEE(buf[8:pos])
	if stored := binary.BigEndian.Uint32(buf[pos : pos+4]); stored != sum {
		return nil, dataOffset, errBadChecksum
	}
	return meta, dataOffset, nil
}

// Header decode failure reasons. The back end wraps them into
// ErrCorruptHeader with file context.
var (
	errTooSmall    = headerError("too small")
	errBadMarker   = headerError("invalid marker")
	errShortHeader = headerError("invalid data offset")
	errBadVersion  = headerError("wrong version")
	errBadTimespan = headerError("startTime >= endTime")
	errBadOffset   = headerError("inconsistent data offset")
	errBadChecksum = headerError("checksum mismatch")
)

type headerError string

func (e headerError) Error() string { return string(e) }

// encodeRecord serializes a sample into one fixed-size record.
func encodeRecord(s types.Sample) [recordSize]byte {
	var buf [recordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.Time))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(s.Quality))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(s.Manual))
	binary.BigEndian.PutUint64(buf[24:32], uint64(s.BaseValueCount))
	binary.BigEndian.PutUint64(buf[32:40], s.Bits)
	buf[40] = lrcParity(buf[:40])
	return buf
}

// decodeRecord parses one record and verifies its parity byte. The
// sample is tagged with the channel's data type.
func decodeRecord(buf []byte, kind types.DataType) (types.Sample, bool) {
	if lrcParity(buf[:40]) != buf[40] {
		return types.Sample{}, false
	}
	return types.Sample{
		Time:           int64(binary.BigEndian.Uint64(buf[0:8])),
		Quality:        math.Float64frombits(binary.BigEndian.Uint64(buf[8:16])),
		Manual:         math.Float64frombits(binary.BigEndian.Uint64(buf[16:24])),
		BaseValueCount: int64(binary.BigEndian.Uint64(buf[24:32])),
		Kind:           kind,
		Bits:           binary.BigEndian.Uint64(buf[32:40]),
	}, true
}

// lrcParity calculates the single-byte XOR checksum of a record's data
// bytes.
func lrcParity(data []byte) byte {
	result := byte(lrcSeed)
	for _, b := range data {
		result ^= b
	}
	return result
}

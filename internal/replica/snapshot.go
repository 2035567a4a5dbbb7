package replica

import (
	"bytes"
	"encoding/binary"
	"hash/crc64"
	"io"
	"strconv"
)

// rdbMagic (which carries the format version) and the opcodes below mirror
// faizanhussain2310-GoRedis/internal/rdb/rdb.go's file-format constants;
// this system only ever needs to produce the single "empty database"
// instance of that format, and treats the resulting bytes as an opaque
// blob everywhere else.
const (
	rdbMagic      = "REDIS0011"
	opCodeAux     = 0xFA
	opCodeSelect  = 0xFE
	opCodeResize  = 0xFB
	opCodeEOF     = 0xFF
)

// BaselineSnapshot is the fixed byte blob shipped inline during PSYNC as
// the baseline state of an empty database.
var BaselineSnapshot = buildEmptyRDB()

func buildEmptyRDB() []byte {
	var buf bytes.Buffer
	hasher := crc64.New(crc64.MakeTable(crc64.ECMA))
	mw := io.MultiWriter(&buf, hasher)

	mw.Write([]byte(rdbMagic))
	mw.Write([]byte{opCodeAux})
	writeRDBString(mw, "redis-ver")
	writeRDBString(mw, "7.0.0")
	mw.Write([]byte{opCodeSelect, 0})
	mw.Write([]byte{opCodeResize})
	writeRDBLength(mw, 0) // key count
	writeRDBLength(mw, 0) // keys with expiry
	mw.Write([]byte{opCodeEOF})

	checksum := hasher.Sum64()
	binary.Write(&buf, binary.LittleEndian, checksum)
	return buf.Bytes()
}

func writeRDBString(w io.Writer, s string) {
	writeRDBLength(w, len(s))
	w.Write([]byte(s))
}

func writeRDBLength(w io.Writer, length int) {
	switch {
	case length < 64:
		w.Write([]byte{byte(length)})
	case length < 16384:
		w.Write([]byte{byte(0x40 | (length >> 8)), byte(length & 0xFF)})
	default:
		w.Write([]byte{0x80})
		binary.Write(w, binary.BigEndian, uint32(length))
	}
}

// FrameSnapshot wraps payload in the bulk-string-like framing PSYNC uses
// for the baseline snapshot: "$<len>\r\n<bytes>" with no trailing CRLF.
// This deliberately does not produce a conforming bulk Frame — followers
// must accept this exact framing as a special case.
func FrameSnapshot(payload []byte) []byte {
	header := "$" + strconv.Itoa(len(payload)) + "\r\n"
	return append([]byte(header), payload...)
}

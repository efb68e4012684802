package oscilloscope

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

var nativeEndian binary.ByteOrder

func init() {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)

	switch buf {
	case [2]byte{0xCD, 0xAB}:
		nativeEndian = binary.LittleEndian
	case [2]byte{0xAB, 0xCD}:
		nativeEndian = binary.BigEndian
	default:
		panic("Could not determine native endianness.")
	}
}

// DecodeError indicates a capture payload that cannot be interpreted
// in the requested sample format.  The capture is discarded; decoding
// never returns a partial result.
type DecodeError struct {
	// Length is the byte length of the offending payload
	Length int

	// Reason describes why the payload was rejected
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %d byte capture: %s", e.Length, e.Reason)
}

// DecodeBytes interprets a raw capture as one two's-complement signed
// 8-bit sample per byte.  The returned slice aliases raw.
func DecodeBytes(raw []byte) []int8 {
	if len(raw) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&raw[0])), len(raw))
}

// DecodeWords interprets a raw capture as big-endian signed 16-bit
// samples, two bytes per sample.  Decoding is a bulk reinterpretation,
// not a per-sample parse; on big-endian hosts the buffer is aliased
// directly.
func DecodeWords(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, &DecodeError{Length: len(raw), Reason: "word format requires an even byte count"}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if nativeEndian == binary.BigEndian {
		return unsafe.Slice((*int16)(unsafe.Pointer(&raw[0])), len(raw)/2), nil
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(raw[2*i:]))
	}
	return out, nil
}

// DecodeWordsEach decodes several captures, one decoded sequence per
// input, preserving order.  Any failure discards the whole batch.
func DecodeWordsEach(raws [][]byte) ([][]int16, error) {
	out := make([][]int16, len(raws))
	for i, raw := range raws {
		dec, err := DecodeWords(raw)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

// DecodeBytesEach is DecodeBytes over several captures, preserving order
func DecodeBytesEach(raws [][]byte) [][]int8 {
	out := make([][]int8, len(raws))
	for i, raw := range raws {
		out[i] = DecodeBytes(raw)
	}
	return out
}

// EncodeWords packs signed 16-bit samples back into big-endian byte
// pairs, the exact inverse of DecodeWords
func EncodeWords(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

package oto

import (
	"encoding/binary"
	"math"
)

// FloatBufferTo16BitLE appends the samples to dst as 16-bit little-endian
// integers, clipping to [-1,1].
func FloatBufferTo16BitLE(buff []float32, dst []byte) []byte {
	for _, v := range buff {
		var uv int16
		if v < -1.0 {
			uv = -math.MaxInt16
		} else if v > 1.0 {
			uv = math.MaxInt16
		} else {
			uv = int16(v * math.MaxInt16)
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(uv))
	}
	return dst
}

// FloatBufferTo32BitLE appends the samples to dst as little-endian float32.
func FloatBufferTo32BitLE(buff []float32, dst []byte) []byte {
	for _, v := range buff {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

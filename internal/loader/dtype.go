package loader

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decode converts little-endian src of the given dtype into dst.
func decode(dst []float32, src []byte, dtype SafeTensorsDType) error {
	size := dtype.Size()
	if size == 0 {
		return fmt.Errorf("unsupported dtype: %s", dtype)
	}
	if len(src) != len(dst)*size {
		return fmt.Errorf("%d bytes for %d %s elements", len(src), len(dst), dtype)
	}

	switch dtype {
	case SafeTensorsF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	case SafeTensorsF64:
		for i := range dst {
			dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:])))
		}
	case SafeTensorsF16:
		for i := range dst {
			dst[i] = Float16ToFloat32(binary.LittleEndian.Uint16(src[i*2:]))
		}
	case SafeTensorsBF16:
		for i := range dst {
			dst[i] = BFloat16ToFloat32(binary.LittleEndian.Uint16(src[i*2:]))
		}
	}
	return nil
}

// Float16ToFloat32 converts IEEE 754 half precision to float32.
func Float16ToFloat32(h uint16) float32 {
	sign := (h >> 15) & 0x1
	exp := (h >> 10) & 0x1F
	mant := h & 0x3FF

	var result uint32

	switch exp {
	case 0:
		if mant == 0 {
			// Zero.
			result = uint32(sign) << 31
		} else {
			// Subnormal: shift until the implicit bit appears.
			e := int32(1)
			for (mant & 0x400) == 0 {
				mant <<= 1
				e--
			}
			mant &= 0x3FF
			result = (uint32(sign) << 31) | (uint32(e+127-15) << 23) | (uint32(mant) << 13)
		}
	case 0x1F:
		// Inf or NaN.
		result = (uint32(sign) << 31) | 0x7F800000 | (uint32(mant) << 13)
	default:
		result = (uint32(sign) << 31) | (uint32(exp+127-15) << 23) | (uint32(mant) << 13)
	}

	return math.Float32frombits(result)
}

// BFloat16ToFloat32 widens a bfloat16, which is the top half of a float32.
func BFloat16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

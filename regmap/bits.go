package regmap

import "math/bits"

// Bit returns a mask with bit n set
func Bit(n uint) uint32 {
	return 1 << n
}

// Mask returns a mask with bits hi through lo set, inclusive
func Mask(hi, lo uint) uint32 {
	return (^uint32(0) >> (31 - hi)) &^ (Bit(lo) - 1)
}

// FieldPrep shifts val into the position of the masked field
func FieldPrep(mask, val uint32) uint32 {
	return (val << bits.TrailingZeros32(mask)) & mask
}

// FieldGet extracts the masked field of val, shifted down to bit zero
func FieldGet(mask, val uint32) uint32 {
	return (val & mask) >> bits.TrailingZeros32(mask)
}

package common

import (
	"unsafe"
)

// STB casts a string to []byte without a copy,never write into the result
func STB(data string) []byte {
	return unsafe.Slice(unsafe.StringData(data), len(data))
}

// BTS casts a []byte to string without a copy,writes into data show through
func BTS(data []byte) string {
	return unsafe.String(unsafe.SliceData(data), len(data))
}

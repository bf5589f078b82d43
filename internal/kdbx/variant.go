package kdbx

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// VariantDictionary value types.
const (
	VariantEnd    byte = 0x00
	VariantUint32 byte = 0x04
	VariantUint64 byte = 0x05
	VariantBool   byte = 0x08
	VariantInt32  byte = 0x0C
	VariantInt64  byte = 0x0D
	VariantString byte = 0x18
	VariantBytes  byte = 0x42
)

// VariantDictionaryVersion is the serialization version written by KeePass.
const VariantDictionaryVersion uint16 = 0x0100

const variantVersionMask uint16 = 0xFF00

// Variant is a typed value of a VariantDictionary.
type Variant struct {
	Type byte
	Data []byte
}

// VariantDictionary is the typed key/value map used for KDF parameters and
// public custom data in KDBX 4 headers.
type VariantDictionary map[string]Variant

// ParseVariantDictionary decodes b.
func ParseVariantDictionary(b []byte) (VariantDictionary, error) {
	r := NewReader(b)
	version, err := r.Uint16("variant dictionary version")
	if err != nil {
		return nil, err
	}
	if version&variantVersionMask > VariantDictionaryVersion&variantVersionMask {
		return nil, &models.FormatError{Reason: fmt.Sprintf("variant dictionary version %#04x", version)}
	}

	dict := VariantDictionary{}
	for {
		typ, err := r.Byte("variant type")
		if err != nil {
			return nil, err
		}
		if typ == VariantEnd {
			return dict, nil
		}
		keyLen, err := r.Int32Len("variant key length")
		if err != nil {
			return nil, err
		}
		key, err := r.Next(keyLen, "variant key")
		if err != nil {
			return nil, err
		}
		valLen, err := r.Int32Len("variant value length")
		if err != nil {
			return nil, err
		}
		val, err := r.Next(valLen, "variant value")
		if err != nil {
			return nil, err
		}
		if err := checkVariantSize(typ, len(val)); err != nil {
			return nil, err
		}
		dict[string(key)] = Variant{Type: typ, Data: val}
	}
}

func checkVariantSize(typ byte, n int) error {
	want := -1
	switch typ {
	case VariantUint32, VariantInt32:
		want = 4
	case VariantUint64, VariantInt64:
		want = 8
	case VariantBool:
		want = 1
	case VariantString, VariantBytes:
	default:
		return &models.FormatError{Reason: fmt.Sprintf("unknown variant type %#02x", typ)}
	}
	if want >= 0 && n != want {
		return &models.FormatError{Reason: fmt.Sprintf("variant type %#02x has %d bytes", typ, n)}
	}
	return nil
}

// Bytes returns a byte-array or string value.
func (d VariantDictionary) Bytes(key string) ([]byte, bool) {
	v, ok := d[key]
	if !ok || (v.Type != VariantBytes && v.Type != VariantString) {
		return nil, false
	}
	return v.Data, true
}

// Uint32 returns an unsigned 32-bit value.
func (d VariantDictionary) Uint32(key string) (uint32, bool) {
	v, ok := d[key]
	if !ok || v.Type != VariantUint32 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v.Data), true
}

// Uint64 returns an unsigned 64-bit value. 32-bit values widen.
func (d VariantDictionary) Uint64(key string) (uint64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	switch v.Type {
	case VariantUint64:
		return binary.LittleEndian.Uint64(v.Data), true
	case VariantUint32:
		return uint64(binary.LittleEndian.Uint32(v.Data)), true
	}
	return 0, false
}

// Marshal encodes the dictionary with keys in sorted order.
func (d VariantDictionary) Marshal() []byte {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := binary.LittleEndian.AppendUint16(nil, VariantDictionaryVersion)
	for _, k := range keys {
		v := d[k]
		out = append(out, v.Type)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(k)))
		out = append(out, k...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Data)))
		out = append(out, v.Data...)
	}
	return append(out, VariantEnd)
}

// Uint32Variant builds a uint32 value.
func Uint32Variant(v uint32) Variant {
	return Variant{Type: VariantUint32, Data: binary.LittleEndian.AppendUint32(nil, v)}
}

// Uint64Variant builds a uint64 value.
func Uint64Variant(v uint64) Variant {
	return Variant{Type: VariantUint64, Data: binary.LittleEndian.AppendUint64(nil, v)}
}

// BytesVariant builds a byte-array value.
func BytesVariant(b []byte) Variant {
	return Variant{Type: VariantBytes, Data: b}
}

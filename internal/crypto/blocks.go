package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

var zeroHash [sha256.Size]byte

// readHashedBlocks joins a KDBX 3 hashed block stream. The result never
// reallocates, so no partial copies of the content are left behind.
func readHashedBlocks(data []byte) ([]byte, error) {
	r := kdbx.NewReader(data)
	out := make([]byte, 0, len(data))
	for idx := uint32(0); ; idx++ {
		section := fmt.Sprintf("hashed block %d", idx)
		got, err := r.Uint32(section)
		if err != nil {
			Wipe(out)
			return nil, err
		}
		if got != idx {
			Wipe(out)
			return nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("block index %d, want %d", got, idx)}
		}
		hash, err := r.Next(sha256.Size, section)
		if err != nil {
			Wipe(out)
			return nil, err
		}
		size, err := r.Int32Len(section)
		if err != nil {
			Wipe(out)
			return nil, err
		}
		if size == 0 {
			if !bytes.Equal(hash, zeroHash[:]) {
				Wipe(out)
				return nil, &models.MalformedPayloadError{Reason: "final block hash is not zero"}
			}
			return out, nil
		}
		block, err := r.Next(size, section)
		if err != nil {
			Wipe(out)
			return nil, err
		}
		sum := sha256.Sum256(block)
		if !bytes.Equal(hash, sum[:]) {
			Wipe(out)
			return nil, &models.MalformedPayloadError{Reason: section + " hash mismatch"}
		}
		out = append(out, block...)
	}
}

// readHMACBlocks joins a KDBX 4 HMAC block stream after authenticating every
// block. The joined bytes are still encrypted.
func readHMACBlocks(data, hmacKey []byte) ([]byte, error) {
	r := kdbx.NewReader(data)
	out := make([]byte, 0, len(data))
	for idx := uint64(0); idx < math.MaxUint64; idx++ {
		section := fmt.Sprintf("hmac block %d", idx)
		mac, err := r.Next(sha256.Size, section)
		if err != nil {
			return nil, err
		}
		rawSize, err := r.Next(4, section)
		if err != nil {
			return nil, err
		}
		size := int32(binary.LittleEndian.Uint32(rawSize))
		if size < 0 {
			return nil, &models.FormatError{Reason: section + " has a negative length"}
		}
		block, err := r.Next(int(size), section)
		if err != nil {
			return nil, err
		}
		if !hmac.Equal(mac, blockMAC(hmacKey, idx, rawSize, block)) {
			return nil, &models.MalformedPayloadError{Reason: section + " hmac mismatch"}
		}
		if size == 0 {
			return out, nil
		}
		out = append(out, block...)
	}
	return nil, &models.MalformedPayloadError{Reason: "too many blocks"}
}

// blockKey returns SHA-512(index ‖ hmacKey). Index math.MaxUint64 keys the
// header HMAC.
func blockKey(hmacKey []byte, idx uint64) []byte {
	h := sha512.New()
	h.Write(binary.LittleEndian.AppendUint64(nil, idx))
	h.Write(hmacKey)
	return h.Sum(nil)
}

func blockMAC(hmacKey []byte, idx uint64, rawSize, block []byte) []byte {
	key := blockKey(hmacKey, idx)
	defer Wipe(key)
	m := hmac.New(sha256.New, key)
	m.Write(binary.LittleEndian.AppendUint64(nil, idx))
	m.Write(rawSize)
	m.Write(block)
	return m.Sum(nil)
}

func headerMAC(hmacKey, header []byte) []byte {
	key := blockKey(hmacKey, math.MaxUint64)
	defer Wipe(key)
	m := hmac.New(sha256.New, key)
	m.Write(header)
	return m.Sum(nil)
}

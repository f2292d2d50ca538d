package services

import (
	"crypto/rand"
	"math/big"
)

const (
	roomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	RoomCodeLength   = 6
)

var alphabetSize = big.NewInt(int64(len(roomCodeAlphabet)))

// GenerateRoomID draws a 6 character upper-case base36 code (36^6 space).
func GenerateRoomID() (string, error) {
	b := make([]byte, RoomCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ValidRoomID reports whether id could have come from GenerateRoomID.
func ValidRoomID(id string) bool {
	if len(id) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

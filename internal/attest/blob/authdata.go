package blob

import (
	"encoding/binary"
	"errors"
)

// Authenticator-data layout: 32-byte relying-party-id hash, 1 flags byte,
// 4-byte big-endian signature counter.
const (
	rpIDHashLen     = 32
	minAuthDataLen  = 37
	counterOffset   = 33
	counterFieldLen = 4
)

var ErrAuthDataTooShort = errors.New("blob: authenticator data shorter than 37 bytes")

// RPIDHash returns the relying-party-id hash embedded in authenticator data.
func RPIDHash(authData []byte) ([]byte, error) {
	if len(authData) < minAuthDataLen {
		return nil, ErrAuthDataTooShort
	}
	return authData[:rpIDHashLen], nil
}

// Counter returns the big-endian replay counter embedded in authenticator data.
func Counter(authData []byte) (uint32, error) {
	if len(authData) < minAuthDataLen {
		return 0, ErrAuthDataTooShort
	}
	return binary.BigEndian.Uint32(authData[counterOffset : counterOffset+counterFieldLen]), nil
}

package blob

import (
	"encoding/asn1"
	"errors"
	"math/big"
)

const sigComponentLen = 32

var ErrBadSignature = errors.New("blob: malformed signature encoding")

type ecdsaSignature struct {
	R, S *big.Int
}

// RawSignatureFromDER converts a distinguished-encoding ECDSA signature into
// the fixed 64-byte r‖s form, left-padding each component to 32 bytes.
// Components wider than 32 bytes (after leading-zero stripping) are rejected.
func RawSignatureFromDER(der []byte) ([]byte, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil || len(rest) != 0 {
		return nil, ErrBadSignature
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return nil, ErrBadSignature
	}
	if sig.R.BitLen() > sigComponentLen*8 || sig.S.BitLen() > sigComponentLen*8 {
		return nil, ErrBadSignature
	}

	raw := make([]byte, sigComponentLen*2)
	sig.R.FillBytes(raw[:sigComponentLen])
	sig.S.FillBytes(raw[sigComponentLen:])
	return raw, nil
}

// SignatureInts splits a fixed 64-byte r‖s signature back into its integer
// components for curve verification.
func SignatureInts(raw []byte) (r, s *big.Int, err error) {
	if len(raw) != sigComponentLen*2 {
		return nil, nil, ErrBadSignature
	}
	r = new(big.Int).SetBytes(raw[:sigComponentLen])
	s = new(big.Int).SetBytes(raw[sigComponentLen:])
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, nil, ErrBadSignature
	}
	return r, s, nil
}

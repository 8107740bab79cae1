// Package blob decodes the binary envelopes produced by the device's secure
// enclave: the one-time attestation object and the per-request assertion.
//
// Both envelopes are concise-binary maps (CBOR). Only the subset the
// envelopes actually use is implemented here; anything outside it is a
// decode error, never a partial result. All parsing is pure and
// bounds-checked so every malformed-input path can be unit tested.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncated   = errors.New("blob: truncated input")
	ErrUnsupported = errors.New("blob: unsupported encoding")
)

const maxNesting = 8

// decoder walks a CBOR byte stream.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// readHeader returns the major type and the argument (length or value).
func (d *decoder) readHeader() (major byte, arg uint64, err error) {
	ib, err := d.readByte()
	if err != nil {
		return 0, 0, err
	}
	major = ib >> 5
	info := ib & 0x1f

	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		b, err := d.readByte()
		return major, uint64(b), err
	case info == 25:
		raw, err := d.readBytes(2)
		if err != nil {
			return 0, 0, err
		}
		return major, uint64(binary.BigEndian.Uint16(raw)), nil
	case info == 26:
		raw, err := d.readBytes(4)
		if err != nil {
			return 0, 0, err
		}
		return major, uint64(binary.BigEndian.Uint32(raw)), nil
	case info == 27:
		raw, err := d.readBytes(8)
		if err != nil {
			return 0, 0, err
		}
		return major, binary.BigEndian.Uint64(raw), nil
	default:
		// Indefinite lengths and reserved encodings are not produced by
		// the attestation envelopes.
		return 0, 0, ErrUnsupported
	}
}

// item is a decoded CBOR value restricted to the types the envelopes use.
type item struct {
	kind  byte // one of the major types below
	u     uint64
	bytes []byte
	text  string
	list  []item
	pairs map[string]item
}

const (
	kindUint  byte = 0
	kindBytes byte = 2
	kindText  byte = 3
	kindList  byte = 4
	kindMap   byte = 5
)

func (d *decoder) decodeItem(depth int) (item, error) {
	if depth > maxNesting {
		return item{}, fmt.Errorf("blob: nesting exceeds %d levels", maxNesting)
	}

	major, arg, err := d.readHeader()
	if err != nil {
		return item{}, err
	}

	switch major {
	case 0: // unsigned integer
		return item{kind: kindUint, u: arg}, nil
	case 2: // byte string
		if arg > uint64(d.remaining()) {
			return item{}, ErrTruncated
		}
		raw, err := d.readBytes(int(arg))
		if err != nil {
			return item{}, err
		}
		return item{kind: kindBytes, bytes: raw}, nil
	case 3: // text string
		if arg > uint64(d.remaining()) {
			return item{}, ErrTruncated
		}
		raw, err := d.readBytes(int(arg))
		if err != nil {
			return item{}, err
		}
		return item{kind: kindText, text: string(raw)}, nil
	case 4: // array
		if arg > uint64(d.remaining()) {
			return item{}, ErrTruncated
		}
		list := make([]item, 0, arg)
		for i := uint64(0); i < arg; i++ {
			elem, err := d.decodeItem(depth + 1)
			if err != nil {
				return item{}, err
			}
			list = append(list, elem)
		}
		return item{kind: kindList, list: list}, nil
	case 5: // map with text keys
		if arg > uint64(d.remaining()) {
			return item{}, ErrTruncated
		}
		pairs := make(map[string]item, arg)
		for i := uint64(0); i < arg; i++ {
			key, err := d.decodeItem(depth + 1)
			if err != nil {
				return item{}, err
			}
			if key.kind != kindText {
				return item{}, fmt.Errorf("blob: non-text map key: %w", ErrUnsupported)
			}
			value, err := d.decodeItem(depth + 1)
			if err != nil {
				return item{}, err
			}
			pairs[key.text] = value
		}
		return item{kind: kindMap, pairs: pairs}, nil
	default:
		return item{}, fmt.Errorf("blob: major type %d: %w", major, ErrUnsupported)
	}
}

func decodeTopLevelMap(blob []byte) (map[string]item, error) {
	if len(blob) == 0 {
		return nil, ErrTruncated
	}
	d := &decoder{buf: blob}
	top, err := d.decodeItem(0)
	if err != nil {
		return nil, err
	}
	if top.kind != kindMap {
		return nil, fmt.Errorf("blob: expected top-level map: %w", ErrUnsupported)
	}
	return top.pairs, nil
}

// AttestationObject is the decoded one-time key registration envelope.
type AttestationObject struct {
	Format    string
	CertChain [][]byte // DER certificates, leaf first
	Receipt   []byte
	AuthData  []byte
}

// DecodeAttestation decodes an attestation envelope.
func DecodeAttestation(raw []byte) (*AttestationObject, error) {
	pairs, err := decodeTopLevelMap(raw)
	if err != nil {
		return nil, err
	}

	fmtItem, ok := pairs["fmt"]
	if !ok || fmtItem.kind != kindText {
		return nil, errors.New("blob: attestation missing fmt")
	}
	authData, ok := pairs["authData"]
	if !ok || authData.kind != kindBytes {
		return nil, errors.New("blob: attestation missing authData")
	}
	attStmt, ok := pairs["attStmt"]
	if !ok || attStmt.kind != kindMap {
		return nil, errors.New("blob: attestation missing attStmt")
	}

	obj := &AttestationObject{
		Format:   fmtItem.text,
		AuthData: authData.bytes,
	}

	if x5c, ok := attStmt.pairs["x5c"]; ok {
		if x5c.kind != kindList {
			return nil, errors.New("blob: attestation x5c is not an array")
		}
		for _, cert := range x5c.list {
			if cert.kind != kindBytes {
				return nil, errors.New("blob: attestation x5c entry is not a byte string")
			}
			obj.CertChain = append(obj.CertChain, cert.bytes)
		}
	}
	if receipt, ok := attStmt.pairs["receipt"]; ok && receipt.kind == kindBytes {
		obj.Receipt = receipt.bytes
	}

	return obj, nil
}

// AssertionObject is the decoded per-request proof-of-possession envelope.
type AssertionObject struct {
	Signature []byte // DER-encoded ECDSA signature
	AuthData  []byte
}

// DecodeAssertion decodes an assertion envelope.
func DecodeAssertion(raw []byte) (*AssertionObject, error) {
	pairs, err := decodeTopLevelMap(raw)
	if err != nil {
		return nil, err
	}

	sig, ok := pairs["signature"]
	if !ok || sig.kind != kindBytes {
		return nil, errors.New("blob: assertion missing signature")
	}
	authData, ok := pairs["authenticatorData"]
	if !ok || authData.kind != kindBytes {
		return nil, errors.New("blob: assertion missing authenticatorData")
	}

	return &AssertionObject{
		Signature: sig.bytes,
		AuthData:  authData.bytes,
	}, nil
}

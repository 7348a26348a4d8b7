// Package wire implements the deterministic binary framing used on every
// broker message exchanged between the coordinator and the workers.
//
// The original service (see original_source/) serialized these messages
// with Rust's bincode, representing each optional field as a one-byte
// presence tag followed by the value. This package reproduces that same
// tagged-option shape using the standard library only: there is no
// off-the-shelf Go codec that reproduces bincode's wire format, and since
// both ends of this wire are Go processes talking only to each other,
// byte-for-byte interop with the original Rust encoding is not a
// requirement — only the four-field, option-tagged contract described by
// the specification is.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedMessage indicates the binary payload did not decode into a
// well-formed message.
var ErrMalformedMessage = errors.New("wire: malformed message")

const (
	tagNone byte = 0
	tagSome byte = 1
)

// ServerMessage is the four-field tagged record carried on secrets_exchange
// and decryptions_exchange. Exactly one of the two shapes described in
// spec.md §6 is ever populated by this package's constructors, but the
// wire type itself makes no such guarantee — callers must check which
// fields are present, mirroring the original's tagged-union-by-convention.
type ServerMessage struct {
	CipherText     []byte
	PublicKey      []byte
	SecretKeyShare []byte
	Timestamp      *uint64
}

// DecryptionRequest builds the wire shape of a signed decryption request.
func DecryptionRequest(cipherText []byte, timestamp uint64) ServerMessage {
	if cipherText == nil {
		cipherText = []byte{}
	}
	return ServerMessage{CipherText: cipherText, Timestamp: &timestamp}
}

// KeySync builds the wire shape of a one-shot key-sync message.
func KeySync(publicKey, secretKeyShare []byte) ServerMessage {
	return ServerMessage{PublicKey: publicKey, SecretKeyShare: secretKeyShare}
}

// IsDecryptionRequest reports whether m has exactly the
// (CipherText, Timestamp) shape.
func (m ServerMessage) IsDecryptionRequest() bool {
	return m.CipherText != nil && m.PublicKey == nil && m.SecretKeyShare == nil && m.Timestamp != nil
}

// IsKeySync reports whether m has exactly the (PublicKey, SecretKeyShare) shape.
func (m ServerMessage) IsKeySync() bool {
	return m.CipherText == nil && m.PublicKey != nil && m.SecretKeyShare != nil && m.Timestamp == nil
}

// Marshal encodes m as a sequence of option-tagged fields, in field
// declaration order: cipher_text, public_key, secret_key_share, timestamp.
func (m ServerMessage) Marshal() []byte {
	var buf bytes.Buffer
	writeOptionalBytes(&buf, m.CipherText)
	writeOptionalBytes(&buf, m.PublicKey)
	writeOptionalBytes(&buf, m.SecretKeyShare)
	writeOptionalUint64(&buf, m.Timestamp)
	return buf.Bytes()
}

// UnmarshalServerMessage decodes a ServerMessage previously produced by Marshal.
func UnmarshalServerMessage(data []byte) (ServerMessage, error) {
	r := bytes.NewReader(data)
	var m ServerMessage
	var err error
	if m.CipherText, err = readOptionalBytes(r); err != nil {
		return ServerMessage{}, err
	}
	if m.PublicKey, err = readOptionalBytes(r); err != nil {
		return ServerMessage{}, err
	}
	if m.SecretKeyShare, err = readOptionalBytes(r); err != nil {
		return ServerMessage{}, err
	}
	if m.Timestamp, err = readOptionalUint64(r); err != nil {
		return ServerMessage{}, err
	}
	if r.Len() != 0 {
		return ServerMessage{}, fmt.Errorf("%w: trailing bytes", ErrMalformedMessage)
	}
	return m, nil
}

// PartialDecryption is the worker -> coordinator message carried on
// partials_exchange.
type PartialDecryption struct {
	ID              uint64
	DecryptionShare []byte
}

// Marshal encodes p as id (u64 LE) followed by the length-prefixed share.
func (p PartialDecryption) Marshal() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, p.ID)
	writeBytes(&buf, p.DecryptionShare)
	return buf.Bytes()
}

// UnmarshalPartialDecryption decodes a PartialDecryption previously produced
// by Marshal.
func UnmarshalPartialDecryption(data []byte) (PartialDecryption, error) {
	r := bytes.NewReader(data)
	var p PartialDecryption
	if err := binary.Read(r, binary.LittleEndian, &p.ID); err != nil {
		return PartialDecryption{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	share, err := readBytes(r)
	if err != nil {
		return PartialDecryption{}, err
	}
	p.DecryptionShare = share
	if r.Len() != 0 {
		return PartialDecryption{}, fmt.Errorf("%w: trailing bytes", ErrMalformedMessage)
	}
	return p, nil
}

func writeOptionalBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		buf.WriteByte(tagNone)
		return
	}
	buf.WriteByte(tagSome)
	writeBytes(buf, b)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.LittleEndian, uint64(len(b)))
	buf.Write(b)
}

func writeOptionalUint64(buf *bytes.Buffer, v *uint64) {
	if v == nil {
		buf.WriteByte(tagNone)
		return
	}
	buf.WriteByte(tagSome)
	_ = binary.Write(buf, binary.LittleEndian, *v)
}

func readOptionalBytes(r *bytes.Reader) ([]byte, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if tag == tagNone {
		return nil, nil
	}
	if tag != tagSome {
		return nil, fmt.Errorf("%w: invalid option tag %d", ErrMalformedMessage, tag)
	}
	return readBytes(r)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	// guard against a corrupt/adversarial length prefix forcing a huge allocation.
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: declared length %d exceeds remaining buffer", ErrMalformedMessage, n)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return out, nil
}

func readOptionalUint64(r *bytes.Reader) (*uint64, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if tag == tagNone {
		return nil, nil
	}
	if tag != tagSome {
		return nil, fmt.Errorf("%w: invalid option tag %d", ErrMalformedMessage, tag)
	}
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &v, nil
}

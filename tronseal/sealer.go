package tronseal

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/forestrie/go-tron/tron"
	"github.com/veraison/go-cose"
)

var (
	ErrSealMismatch     = errors.New("tronseal: document does not match the seal")
	ErrSealVerifyFailed = errors.New("tronseal: seal verification failed")
)

// Commitment is the signed payload of a seal.
type Commitment struct {
	DocumentID []byte `cbor:"1,keyasint"`
	RootKind   uint8  `cbor:"2,keyasint"`
	// Length is the size of the persisted document, header included.
	Length uint64 `cbor:"3,keyasint"`
	Digest []byte `cbor:"4,keyasint"`
	// Timestamp is the unix time in milliseconds at signing. It lets the same
	// document be sealed again.
	Timestamp int64 `cbor:"5,keyasint"`
}

// NewCommitment describes doc as it is now.
func NewCommitment(doc *tron.Document) (Commitment, error) {
	data, err := doc.MarshalBinary()
	if err != nil {
		return Commitment{}, err
	}
	id := doc.ID()
	digest := sha256.Sum256(data)
	return Commitment{
		DocumentID: id[:],
		RootKind:   uint8(doc.Kind()),
		Length:     uint64(len(data)),
		Digest:     digest[:],
	}, nil
}

// Matches reports whether c and other commit to the same document bytes.
// Timestamps are ignored.
func (c Commitment) Matches(other Commitment) bool {
	return bytes.Equal(c.DocumentID, other.DocumentID) &&
		c.RootKind == other.RootKind &&
		c.Length == other.Length &&
		bytes.Equal(c.Digest, other.Digest)
}

type Sealer struct {
	issuer    string
	cborCodec dtcbor.CBORCodec
}

func NewSealer(issuer string, cborCodec dtcbor.CBORCodec) Sealer {
	return Sealer{
		issuer:    issuer,
		cborCodec: cborCodec,
	}
}

func NewSealerCodec() (dtcbor.CBORCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(),
	)
	if err != nil {
		return dtcbor.CBORCodec{}, err
	}
	return codec, nil
}

// Seal signs a commitment to doc. The issuer is carried as the key id.
func (s Sealer) Seal(signer cose.Signer, doc *tron.Document, external []byte) ([]byte, error) {
	c, err := NewCommitment(doc)
	if err != nil {
		return nil, err
	}
	c.Timestamp = time.Now().UnixMilli()
	payload, err := s.cborCodec.MarshalCBOR(c)
	if err != nil {
		return nil, err
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: signer.Algorithm(),
				cose.HeaderLabelKeyID:     []byte(s.issuer),
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, external, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// Verify checks the seal signature, then that doc is the sealed document.
// It returns the verified commitment.
func (s Sealer) Verify(verifier cose.Verifier, seal []byte, doc *tron.Document, external []byte) (Commitment, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(seal); err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrSealVerifyFailed, err)
	}
	if err := msg.Verify(external, verifier); err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrSealVerifyFailed, err)
	}
	var sealed Commitment
	if err := s.cborCodec.UnmarshalInto(msg.Payload, &sealed); err != nil {
		return Commitment{}, fmt.Errorf("%w: payload: %v", ErrSealVerifyFailed, err)
	}

	current, err := NewCommitment(doc)
	if err != nil {
		return sealed, err
	}
	if !sealed.Matches(current) {
		return sealed, ErrSealMismatch
	}
	return sealed, nil
}

// Issuer returns the key id recorded in a seal, without verifying it.
func Issuer(seal []byte) (string, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(seal); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealVerifyFailed, err)
	}
	kid, ok := msg.Headers.Protected[cose.HeaderLabelKeyID].([]byte)
	if !ok {
		return "", fmt.Errorf("%w: no key id", ErrSealVerifyFailed)
	}
	return string(kid), nil
}

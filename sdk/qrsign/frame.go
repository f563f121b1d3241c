package qrsign

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	framePrefix        byte = 0x53
	cryptoSecp256k1    byte = 0x01
	cmdSignTransaction byte = 0x02
	cmdSignature       byte = 0x03
)

var ErrInvalidFrame = errors.New("invalid frame")

// Request is shown to the external signer, typically rendered as a QR code.
type Request struct {
	ID          uint64
	Signer      common.Address
	GenesisHash common.Hash
	Payload     []byte
}

type requestFrame struct {
	Prefix      byte
	Crypto      byte
	Command     byte
	ID          uint64
	Signer      common.Address
	Payload     []byte
	GenesisHash common.Hash
}

func (r *Request) Frame() ([]byte, error) {
	return rlp.EncodeToBytes(&requestFrame{
		Prefix:      framePrefix,
		Crypto:      cryptoSecp256k1,
		Command:     cmdSignTransaction,
		ID:          r.ID,
		Signer:      r.Signer,
		Payload:     r.Payload,
		GenesisHash: r.GenesisHash,
	})
}

func DecodeRequest(frame []byte) (*Request, error) {
	f := &requestFrame{}
	if err := rlp.DecodeBytes(frame, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := checkHeader(f.Prefix, f.Crypto, f.Command, cmdSignTransaction); err != nil {
		return nil, err
	}
	return &Request{ID: f.ID, Signer: f.Signer, GenesisHash: f.GenesisHash, Payload: f.Payload}, nil
}

// Response is scanned back from the external signer.
type Response struct {
	ID        uint64
	Signature []byte
}

type responseFrame struct {
	Prefix    byte
	Crypto    byte
	Command   byte
	ID        uint64
	Signature []byte
}

func (r *Response) Frame() ([]byte, error) {
	return rlp.EncodeToBytes(&responseFrame{
		Prefix:    framePrefix,
		Crypto:    cryptoSecp256k1,
		Command:   cmdSignature,
		ID:        r.ID,
		Signature: r.Signature,
	})
}

func DecodeResponse(frame []byte) (*Response, error) {
	f := &responseFrame{}
	if err := rlp.DecodeBytes(frame, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := checkHeader(f.Prefix, f.Crypto, f.Command, cmdSignature); err != nil {
		return nil, err
	}
	return &Response{ID: f.ID, Signature: f.Signature}, nil
}

func checkHeader(prefix, crypto, command, expected byte) error {
	if prefix != framePrefix {
		return fmt.Errorf("%w: prefix 0x%02x", ErrInvalidFrame, prefix)
	}
	if crypto != cryptoSecp256k1 {
		return fmt.Errorf("%w: unsupported crypto 0x%02x", ErrInvalidFrame, crypto)
	}
	if command != expected {
		return fmt.Errorf("%w: command 0x%02x, expected 0x%02x", ErrInvalidFrame, command, expected)
	}
	return nil
}

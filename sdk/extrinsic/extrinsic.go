package extrinsic

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
)

// Signature length of a recoverable secp256k1 signature.
const signatureLength = 65

var ErrMalformed = errors.New("malformed extrinsic")

// VoteArgs are the arguments of the democracy vote call.
type VoteArgs struct {
	Referendum uint32
	Aye        bool
}

func DecodeVoteArgs(bits []byte) (*VoteArgs, error) {
	args := &VoteArgs{}
	if err := rlp.DecodeBytes(bits, args); err != nil {
		return nil, fmt.Errorf("error decoding vote args: %w", err)
	}
	return args, nil
}

// Unsigned is a call that has been built against a specific runtime
// version but not yet signed.
type Unsigned struct {
	Call        chain.Call
	SpecVersion uint32
}

// NewVote builds a vote call. index is the call index of democracy.vote in
// the runtime identified by specVersion.
func NewVote(index chain.CallIndex, specVersion uint32, id chain.ProposalID, aye bool) (*Unsigned, error) {
	args, err := rlp.EncodeToBytes(&VoteArgs{Referendum: uint32(id), Aye: aye})
	if err != nil {
		return nil, fmt.Errorf("error encoding vote args: %w", err)
	}
	return &Unsigned{
		Call:        chain.Call{Index: index, Args: args},
		SpecVersion: specVersion,
	}, nil
}

// SignRequest carries everything a signer needs to produce a signature for
// an Unsigned extrinsic: the nonce and the block the transaction is anchored to.
type SignRequest struct {
	Unsigned    *Unsigned
	Signer      common.Address
	Nonce       uint64
	BlockNumber uint64
	BlockHash   common.Hash
	GenesisHash common.Hash
}

// Payload is the exact byte sequence that gets signed.
type Payload struct {
	CallIndex   chain.CallIndex
	Args        []byte
	SpecVersion uint32
	Nonce       uint64
	BlockNumber uint64
	BlockHash   common.Hash
	GenesisHash common.Hash
}

func (p *Payload) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(p)
}

func DecodePayload(bits []byte) (*Payload, error) {
	p := &Payload{}
	if err := rlp.DecodeBytes(bits, p); err != nil {
		return nil, fmt.Errorf("error decoding payload: %w", err)
	}
	return p, nil
}

func (r *SignRequest) Payload() *Payload {
	return &Payload{
		CallIndex:   r.Unsigned.Call.Index,
		Args:        r.Unsigned.Call.Args,
		SpecVersion: r.Unsigned.SpecVersion,
		Nonce:       r.Nonce,
		BlockNumber: r.BlockNumber,
		BlockHash:   r.BlockHash,
		GenesisHash: r.GenesisHash,
	}
}

// Signed is an extrinsic ready for submission.
type Signed struct {
	Call        chain.Call
	SpecVersion uint32
	Signer      common.Address
	Signature   []byte
	Nonce       uint64
	BlockNumber uint64
	BlockHash   common.Hash
}

// AddSignature attaches a signature obtained for req. The request must have
// been built from u.
func (u *Unsigned) AddSignature(req *SignRequest, signature []byte) (*Signed, error) {
	if req.Unsigned != u {
		return nil, fmt.Errorf("sign request was built for a different extrinsic")
	}
	if len(signature) != signatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	return &Signed{
		Call:        u.Call,
		SpecVersion: u.SpecVersion,
		Signer:      req.Signer,
		Signature:   sig,
		Nonce:       req.Nonce,
		BlockNumber: req.BlockNumber,
		BlockHash:   req.BlockHash,
	}, nil
}

// Payload reconstructs the signed payload. The genesis hash is not part of
// the encoded extrinsic, the receiving chain supplies its own.
func (s *Signed) Payload(genesis common.Hash) *Payload {
	return &Payload{
		CallIndex:   s.Call.Index,
		Args:        s.Call.Args,
		SpecVersion: s.SpecVersion,
		Nonce:       s.Nonce,
		BlockNumber: s.BlockNumber,
		BlockHash:   s.BlockHash,
		GenesisHash: genesis,
	}
}

type wireSigned struct {
	CallIndex   chain.CallIndex
	Args        []byte
	SpecVersion uint32
	Signer      common.Address
	Signature   []byte
	Nonce       uint64
	BlockNumber uint64
	BlockHash   common.Hash
}

func (s *Signed) Encode() ([]byte, error) {
	if len(s.Signature) != signatureLength {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	return rlp.EncodeToBytes(&wireSigned{
		CallIndex:   s.Call.Index,
		Args:        s.Call.Args,
		SpecVersion: s.SpecVersion,
		Signer:      s.Signer,
		Signature:   s.Signature,
		Nonce:       s.Nonce,
		BlockNumber: s.BlockNumber,
		BlockHash:   s.BlockHash,
	})
}

func DecodeSigned(bits []byte) (*Signed, error) {
	w := &wireSigned{}
	if err := rlp.DecodeBytes(bits, w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(w.Signature) != signatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes", ErrMalformed, signatureLength)
	}
	return &Signed{
		Call:        chain.Call{Index: w.CallIndex, Args: w.Args},
		SpecVersion: w.SpecVersion,
		Signer:      w.Signer,
		Signature:   w.Signature,
		Nonce:       w.Nonce,
		BlockNumber: w.BlockNumber,
		BlockHash:   w.BlockHash,
	}, nil
}

// Hash identifies the encoded extrinsic, it is what the node returns on
// submission.
func Hash(encoded []byte) common.Hash {
	return crypto.Keccak256Hash(encoded)
}

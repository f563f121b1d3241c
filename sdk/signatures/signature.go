package signatures

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"
	"golang.org/x/xerrors"
)

var logger = logging.Logger("signatures")

// Length of a recoverable secp256k1 signature: r || s || v.
const Length = 65

var nullAddr = common.BytesToAddress([]byte{})

// Digest is the hash that is actually signed for a payload.
func Digest(payload []byte) []byte {
	return crypto.Keccak256(payload)
}

func Address(key *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*key)
}

// Sign produces a recoverable signature over the digest of payload.
func Sign(ctx context.Context, key *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	sp, _ := opentracing.StartSpanFromContext(ctx, "signatures.Sign")
	defer sp.Finish()

	sigBytes, err := crypto.Sign(Digest(payload), key)
	if err != nil {
		return nil, xerrors.Errorf("error signing: %w", err)
	}
	return sigBytes, nil
}

// Recover returns the address whose key produced sig over payload.
func Recover(ctx context.Context, payload []byte, sig []byte) (common.Address, error) {
	sp, _ := opentracing.StartSpanFromContext(ctx, "signatures.Recover")
	defer sp.Finish()

	if len(sig) != Length {
		return nullAddr, xerrors.Errorf("signature must be %d bytes, got %d", Length, len(sig))
	}
	recoveredPub, err := crypto.SigToPub(Digest(payload), sig)
	if err != nil {
		return nullAddr, xerrors.Errorf("error recovering signature: %w", err)
	}
	return crypto.PubkeyToAddress(*recoveredPub), nil
}

// Valid reports whether sig is a signature by signer over payload.
func Valid(ctx context.Context, signer common.Address, payload []byte, sig []byte) (bool, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "signatures.Valid")
	defer sp.Finish()

	recovered, err := Recover(ctx, payload, sig)
	if err != nil {
		return false, xerrors.Errorf("error validating: %w", err)
	}
	if recovered != signer {
		logger.Debugf("signature recovered to %s, expected %s", recovered.Hex(), signer.Hex())
		return false, nil
	}
	return true, nil
}

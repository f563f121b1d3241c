package qrsign

import (
	"fmt"

	"github.com/quorumcontrol/ballotbox/sdk/extrinsic"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
)

// Describe renders a request for confirmation on the signing side. The call
// is named when registry knows its spec version and shown as raw hex
// otherwise.
func Describe(req *Request, registry *metadata.Registry) string {
	payload, err := extrinsic.DecodePayload(req.Payload)
	if err != nil {
		return fmt.Sprintf("request %d from %s: undecodable payload 0x%x", req.ID, req.Signer.Hex(), req.Payload)
	}

	call := payload.CallIndex.String()
	if registry != nil {
		if method, err := registry.Lookup(payload.SpecVersion, payload.CallIndex); err == nil {
			call = method.String()
			if method.String() == "democracy.vote" {
				if args, err := extrinsic.DecodeVoteArgs(payload.Args); err == nil {
					call = fmt.Sprintf("%s(#%d, %s)", call, args.Referendum, choice(args.Aye))
				}
			}
		}
	}
	return fmt.Sprintf("request %d from %s: %s nonce %d at block #%d", req.ID, req.Signer.Hex(), call, payload.Nonce, payload.BlockNumber)
}

func choice(aye bool) string {
	if aye {
		return "aye"
	}
	return "nay"
}

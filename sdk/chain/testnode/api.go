package testnode

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
)

type systemAPI struct{ n *Node }

func (api *systemAPI) Health() chain.Health {
	api.n.RLock()
	defer api.n.RUnlock()
	return chain.Health{IsSyncing: api.n.syncing, Peers: 1, ShouldHavePeers: true}
}

func (api *systemAPI) AccountNonce(addr common.Address) hexutil.Uint64 {
	return hexutil.Uint64(api.n.Nonce(addr))
}

type chainAPI struct{ n *Node }

func (api *chainAPI) GetGenesisHash() common.Hash {
	return api.n.genesis
}

func (api *chainAPI) GetHeader() chain.Header {
	api.n.RLock()
	defer api.n.RUnlock()
	return api.n.header()
}

type stateAPI struct{ n *Node }

func (api *stateAPI) GetRuntimeVersion() chain.RuntimeVersion {
	api.n.RLock()
	defer api.n.RUnlock()
	return api.n.runtime
}

type balancesAPI struct{ n *Node }

func (api *balancesAPI) FreeBalance(addr common.Address) *hexutil.Big {
	api.n.RLock()
	defer api.n.RUnlock()
	balance, ok := api.n.balances[addr]
	if !ok {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(new(big.Int).Set(balance))
}

type authorAPI struct{ n *Node }

func (api *authorAPI) SubmitExtrinsic(ctx context.Context, tx hexutil.Bytes) (common.Hash, error) {
	return api.n.submit(ctx, tx)
}

type democracyAPI struct{ n *Node }

func (api *democracyAPI) ReferendumInfoOf(id uint32) *chain.RawRecord {
	api.n.RLock()
	defer api.n.RUnlock()
	ref, ok := api.n.referenda[chain.ProposalID(id)]
	if !ok {
		return nil
	}
	return ref.record
}

func (api *democracyAPI) ReferendumVotesFor(id uint32) []chain.Vote {
	api.n.RLock()
	defer api.n.RUnlock()
	votes := []chain.Vote{}
	if ref, ok := api.n.referenda[chain.ProposalID(id)]; ok {
		votes = append(votes, ref.votes...)
	}
	return votes
}

// Referendum streams the record of a referendum every time the node touches it.
func (api *democracyAPI) Referendum(ctx context.Context, id uint32) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()

	updates := make(chan update, 16)
	feedSub := api.n.feed.Subscribe(updates)

	go func() {
		defer feedSub.Unsubscribe()
		for {
			select {
			case u := <-updates:
				if u.id != chain.ProposalID(id) || u.record == nil {
					continue
				}
				if err := notifier.Notify(sub.ID, u.record); err != nil {
					return
				}
			case <-sub.Err():
				return
			case <-notifier.Closed():
				return
			}
		}
	}()

	return sub, nil
}

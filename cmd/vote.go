package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/quorumcontrol/ballotbox/keystore"
	"github.com/quorumcontrol/ballotbox/sdk/qrsign"
	"github.com/quorumcontrol/ballotbox/voter"
	"github.com/quorumcontrol/ballotbox/watcher"
)

const passphraseEnv = "BALLOTBOX_PASSPHRASE"

var (
	voteAccount string
	tallyWait   time.Duration
)

func parseChoice(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "aye", "yes", "y":
		return true, nil
	case "nay", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid choice %q, expected aye or nay", arg)
	}
}

func readPassphrase() (string, error) {
	if pass, ok := os.LookupEnv(passphraseEnv); ok {
		return pass, nil
	}
	fmt.Fprint(os.Stderr, "passphrase: ")
	bits, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("error reading passphrase: %w", err)
	}
	return string(bits), nil
}

func selectedAccount() (common.Address, error) {
	if voteAccount == "" {
		return conf.Account, nil
	}
	if !common.IsHexAddress(voteAccount) {
		return common.Address{}, fmt.Errorf("account %q is not a hex address", voteAccount)
	}
	return common.HexToAddress(voteAccount), nil
}

func findAccount(keys *keystore.KeyStore, addr common.Address) (*keystore.Account, error) {
	accounts, err := keys.List()
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Address == addr {
			return a, nil
		}
	}
	return nil, keystore.ErrUnknownAccount
}

// relayRequests shows every signing request and feeds the scanned responses
// from in back to the exchange until ctx is done.
func relayRequests(ctx context.Context, s *session, exchange *qrsign.Exchange, in io.Reader) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-exchange.Requests():
			frame, err := req.Frame()
			if err != nil {
				log.Errorf("error encoding request frame: %v", err)
				exchange.Abort()
				continue
			}
			fmt.Println(qrsign.Describe(req, s.registry))
			fmt.Printf("scan with your signer:\n%s\n", hexutil.Encode(frame))
			fmt.Println("paste the signer response:")
		case line := <-lines:
			if line == "" {
				continue
			}
			frame, err := hexutil.Decode(line)
			if err != nil {
				fmt.Printf("response is not hex: %v\n", err)
				continue
			}
			if err := exchange.RespondFrame(ctx, frame); err != nil {
				fmt.Printf("response rejected: %v\n", err)
			}
		}
	}
}

var voteCmd = &cobra.Command{
	Use:   "vote <referendum> <aye|nay>",
	Short: "Vote on a referendum",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProposalID(args[0])
		if err != nil {
			return err
		}
		aye, err := parseChoice(args[1])
		if err != nil {
			return err
		}
		addr, err := selectedAccount()
		if err != nil {
			return err
		}

		ctx, cancel := interruptContext()
		defer cancel()

		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				log.Warningf("%v", err)
			}
		}()

		account, err := findAccount(s.keys, addr)
		if err != nil {
			return fmt.Errorf("error finding account %s: %w", addr.Hex(), err)
		}
		if account.Kind == keystore.Local {
			pass, err := readPassphrase()
			if err != nil {
				return err
			}
			if err := s.keys.Unlock(pass); err != nil {
				return fmt.Errorf("error unlocking keystore: %w", err)
			}
			defer s.keys.Lock()
		}

		exchange := qrsign.NewExchange()
		go relayRequests(ctx, s, exchange, os.Stdin)

		w, err := watcher.New(
			watcher.WithProposalID(id),
			watcher.WithClient(s.client),
			watcher.WithGate(s.gate),
			watcher.WithRegistry(s.registry),
		)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		pipeline := voter.NewPipeline(s.client, nil)
		pipeline.AddRefresher(w)

		coordinator, err := voter.New(
			voter.WithClient(s.client),
			voter.WithGate(s.gate),
			voter.WithRegistry(s.registry),
			voter.WithAccounts(s.keys),
			voter.WithExternalSigner(exchange),
			voter.WithSubmitter(pipeline),
			voter.WithAccount(addr),
			voter.WithVoteCall(conf.VoteSection, conf.VoteMethod),
		)
		if err != nil {
			return err
		}

		outcome, err := coordinator.SubmitVote(ctx, id, aye)
		var rejected *voter.RejectedError
		switch {
		case err == nil:
		case errors.As(err, &rejected):
			return fmt.Errorf("vote rejected by the node: %w", err)
		default:
			return fmt.Errorf("error voting: %w", err)
		}

		choice := "nay"
		if outcome.Aye {
			choice = "aye"
		}
		fmt.Printf("voted %s on #%d from %s (%s, nonce %d): %s\n",
			choice, outcome.ProposalID, outcome.Signer.Hex(), outcome.Kind, outcome.Nonce, outcome.Hash.Hex())

		select {
		case <-time.After(tallyWait):
		case <-ctx.Done():
		}
		if state := w.Current(); state != nil {
			printState(state)
		}
		return nil
	},
}

func init() {
	voteCmd.Flags().StringVarP(&voteAccount, "account", "a", "", "account to vote from (defaults to the configured account)")
	voteCmd.Flags().DurationVar(&tallyWait, "tally-wait", 5*time.Second, "how long to let the tally settle before printing it")
	rootCmd.AddCommand(voteCmd)
}

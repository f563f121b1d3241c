package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quorumcontrol/ballotbox/sdk/ballot"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/watcher"
)

func parseProposalID(arg string) (chain.ProposalID, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid referendum id %q: %w", arg, err)
	}
	return chain.ProposalID(id), nil
}

func printState(state *watcher.ReferendumState) {
	b := state.Ballot
	fmt.Println(state.Header)
	if state.Documentation != nil {
		fmt.Printf("  %s\n", *state.Documentation)
	}
	fmt.Printf("  aye %s (%d votes, %s)\n", ballot.FormatBalance(b.VotedAye, conf.Decimals, conf.Unit), b.VoteCountAye, ballot.FormatShare(b.AyeShare()))
	fmt.Printf("  nay %s (%d votes, %s)\n", ballot.FormatBalance(b.VotedNay, conf.Decimals, conf.Unit), b.VoteCountNay, ballot.FormatShare(b.NayShare()))
	fmt.Printf("  total %s\n", ballot.FormatBalance(b.VotedTotal, conf.Decimals, conf.Unit))
}

func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}

var watchCmd = &cobra.Command{
	Use:   "watch <referendum>",
	Short: "Follow the tally of a referendum until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProposalID(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := interruptContext()
		defer cancel()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		w, err := watcher.New(
			watcher.WithProposalID(id),
			watcher.WithClient(s.client),
			watcher.WithGate(s.gate),
			watcher.WithRegistry(s.registry),
		)
		if err != nil {
			return err
		}

		events := make(chan interface{}, 16)
		sub := w.Subscribe(func(evt interface{}) {
			select {
			case events <- evt:
			default:
				log.Warningf("dropping watcher event, printer is behind")
			}
		})
		defer w.Unsubscribe(sub)

		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case evt := <-events:
				switch e := evt.(type) {
				case *watcher.ReferendumState:
					printState(e)
				case *watcher.Unavailable:
					return fmt.Errorf("referendum #%d unavailable: %w", e.ProposalID, e.Err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

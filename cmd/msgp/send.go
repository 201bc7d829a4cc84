package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Zereker/msgp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	sendAddr    string
	sendReplies int
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [payloads...]",
	Short: "Send frames to a TCP peer and print replies",
	Long: `Connects to --addr, sends every argument as one frame and prints the
first --replies frames received, one per line. Fails if the replies do not
arrive within --timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		replies := make(chan []byte, sendReplies)
		conn, err := msgp.Dial(ctx, sendAddr,
			msgp.BufferSizeOption(len(args)+1),
			msgp.IdleTimeoutOption(sendTimeout),
			msgp.OnMessageOption(func(c *msgp.Conn, payload []byte) error {
				select {
				case replies <- payload:
				default:
				}
				return nil
			}),
		)
		if err != nil {
			return err
		}

		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			err := conn.Run(gctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, msgp.ErrConnectionClosed) {
				return nil
			}
			return err
		})

		group.Go(func() error {
			err := exchange(gctx, conn, args, replies, cmd.OutOrStdout())

			// Deliver every queued frame before closing.
			if serr := conn.Shutdown(gctx); err == nil && !errors.Is(serr, msgp.ErrConnectionClosed) {
				err = serr
			}
			return err
		})

		return group.Wait()
	},
}

// exchange queues every payload on conn and prints n replies to out.
func exchange(ctx context.Context, conn *msgp.Conn, payloads []string, replies <-chan []byte, out io.Writer) error {
	for _, p := range payloads {
		if err := conn.WriteBlocking(ctx, []byte(p)); err != nil {
			return err
		}
	}

	for i := 0; i < sendReplies; i++ {
		select {
		case p := <-replies:
			fmt.Fprintf(out, "%s\n", p)
		case <-ctx.Done():
			return errors.WithMessagef(ctx.Err(), "waiting for reply %d", i+1)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendAddr, "addr", "a", "127.0.0.1:12345", "Address of the peer")
	sendCmd.Flags().IntVarP(&sendReplies, "replies", "n", 0, "Number of reply frames to wait for")
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 5*time.Second, "Overall timeout")
}

package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Zereker/msgp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	decodeFormat  string
	decodeMaxSize int
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Split a framed stream",
	Long: `Reads a framed stream from file (or stdin) and prints every payload.
Formats: raw (payload followed by a newline), hex (one hex line per frame),
len (payload length per line).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		printPayload, err := payloadPrinter(decodeFormat)
		if err != nil {
			return err
		}

		out := bufio.NewWriter(cmd.OutOrStdout())
		defer out.Flush()

		r := msgp.NewReader(in, msgp.ReaderMaxFrameSize(decodeMaxSize))
		for n := 0; ; n++ {
			payload, err := r.Next()
			if err == io.EOF {
				slog.Debug("decode finished", "frames", n)
				return nil
			}
			if err != nil {
				return errors.WithMessagef(err, "frame %d", n)
			}
			if err := printPayload(out, payload); err != nil {
				return err
			}
		}
	},
}

func payloadPrinter(format string) (func(io.Writer, []byte) error, error) {
	switch format {
	case "raw":
		return func(w io.Writer, p []byte) error {
			_, err := fmt.Fprintf(w, "%s\n", p)
			return err
		}, nil
	case "hex":
		return func(w io.Writer, p []byte) error {
			_, err := fmt.Fprintln(w, hex.EncodeToString(p))
			return err
		}, nil
	case "len":
		return func(w io.Writer, p []byte) error {
			_, err := fmt.Fprintln(w, len(p))
			return err
		}, nil
	default:
		return nil, errors.Errorf("unknown format %q", format)
	}
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "raw", "Output format: raw, hex or len")
	decodeCmd.Flags().IntVar(&decodeMaxSize, "max-size", 0, "Maximum payload size in bytes (0 = no limit)")
}

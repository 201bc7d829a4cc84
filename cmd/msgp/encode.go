package main

import (
	"bufio"
	"io"
	"os"

	"github.com/Zereker/msgp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var encodeLines bool

var encodeCmd = &cobra.Command{
	Use:   "encode [files...]",
	Short: "Frame input on stdout",
	Long: `Writes one frame per input file to stdout, or one frame for all of stdin
when no file is given. With --lines every input line becomes its own frame
(the trailing newline is not included).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := bufio.NewWriter(cmd.OutOrStdout())
		fw := msgp.NewWriter(w)

		if len(args) == 0 {
			return encodeInput(fw, cmd.InOrStdin())
		}

		for _, name := range args {
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			err = encodeInput(fw, f)
			f.Close()
			if err != nil {
				return errors.WithMessage(err, name)
			}
		}
		return nil
	},
}

func encodeInput(fw *msgp.Writer, r io.Reader) error {
	if !encodeLines {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return fw.WriteFrame(data)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), msgp.MaxLength)
	for sc.Scan() {
		if err := fw.WriteFrame(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	encodeCmd.Flags().BoolVarP(&encodeLines, "lines", "l", false, "Frame each input line separately")
}

// Command msgp encodes, decodes and sends size-prefixed frames.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

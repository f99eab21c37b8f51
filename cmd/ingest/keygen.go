package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"telemetree/sdk/internal/telemetry/envelope"
)

// runKeygen prints a new recipient key pair as env assignments for INGEST_PRIVATE_KEY and
// INGEST_PUBLIC_KEY. The algorithm is "x25519" (default) or "rsa".
func runKeygen(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	fs.SetOutput(out)
	bits := fs.Int("bits", 3072, "RSA modulus size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	alg := "x25519"
	if fs.NArg() > 0 {
		alg = strings.ToLower(fs.Arg(0))
	}

	var privPEM, pubPEM string
	var err error
	switch alg {
	case "x25519":
		privPEM, pubPEM, err = envelope.GenerateX25519Key()
	case "rsa":
		if *bits < 2048 {
			return fmt.Errorf("keygen: rsa keys need at least 2048 bits, got %d", *bits)
		}
		privPEM, pubPEM, err = envelope.GenerateRSAKey(*bits)
	default:
		return fmt.Errorf("keygen: unknown algorithm %q (want x25519 or rsa)", alg)
	}
	if err != nil {
		return err
	}
	pub, err := envelope.ParsePublicKey(pubPEM)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n", envelope.KeyAlg(pub))
	fmt.Fprintf(out, "INGEST_PRIVATE_KEY=%q\n", privPEM)
	fmt.Fprintf(out, "INGEST_PUBLIC_KEY=%q\n", pubPEM)
	return nil
}

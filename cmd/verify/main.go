package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/travelpay/backend/internal/models"
	"github.com/travelpay/backend/internal/oracle"
)

// Offline verification of a signed response envelope. Reads the envelope
// JSON from a file or stdin and exits 0 only if the signature checks out.
func main() {
	file := flag.String("file", "-", "envelope JSON file, or - for stdin")
	pubkey := flag.String("pubkey", "", "require the envelope to be signed by this hex public key")
	flag.Parse()

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		defer f.Close()
		in = f
	}

	var env models.SignedEnvelope
	if err := json.NewDecoder(in).Decode(&env); err != nil {
		fmt.Fprintln(os.Stderr, "not a valid envelope:", err)
		os.Exit(2)
	}

	if *pubkey != "" && env.ProviderPubkey != *pubkey {
		fmt.Fprintf(os.Stderr, "signed by %s, expected %s\n", env.ProviderPubkey, *pubkey)
		os.Exit(1)
	}

	if !oracle.VerifyEnvelope(&env) {
		fmt.Fprintln(os.Stderr, "INVALID: signature or data hash does not verify")
		os.Exit(1)
	}
	fmt.Printf("OK: signed by %s at %d\n", env.ProviderPubkey, env.Timestamp)
}

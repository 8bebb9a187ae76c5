// encryptkey seals a secret for config.yaml.
//
// Usage:
//
//	export KUBEPULSE_MASTER_KEY=$(openssl rand -hex 32)
//	encryptkey sk-xxxx            # or: echo -n sk-xxxx | encryptkey -
//
// Paste the printed enc:aes256:... value as apiKey, redis.password or
// postgres.dsn. kubepulse decrypts it at startup with the same master key.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"kubepulse/internal/crypto"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "Usage: encryptkey <plaintext-secret | ->")
		fmt.Fprintf(os.Stderr, "       %s must be set (64 hex chars)\n", crypto.MasterKeyEnv)
		os.Exit(1)
	}

	plaintext := os.Args[1]
	if plaintext == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading stdin: %v\n", err)
			os.Exit(1)
		}
		plaintext = strings.TrimRight(string(data), "\r\n")
	}

	key, err := crypto.MasterKeyFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	encrypted, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encryption failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(encrypted)
}

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minKeyLength = 16

var (
	keyOperator string
	keyGenerate bool
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Operator API key commands",
}

var keyHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash an operator API key for auth.api_keys",
	Long: `Prompt for an operator API key and print the auth.api_keys entry
with its bcrypt hash. With --generate a random key is created and printed
once; it cannot be recovered from the hash.`,
	RunE: runKeyHash,
}

func init() {
	keyHashCmd.Flags().StringVar(&keyOperator, "name", "", "Operator name (required)")
	keyHashCmd.Flags().BoolVar(&keyGenerate, "generate", false, "Generate a random key instead of prompting")
	keyHashCmd.MarkFlagRequired("name")

	keyCmd.AddCommand(keyHashCmd)
	rootCmd.AddCommand(keyCmd)
}

func runKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	if keyGenerate {
		generated, err := generateKey()
		if err != nil {
			return err
		}
		key = generated
		fmt.Fprintf(os.Stderr, "Generated key: %s\n\n", key)
	} else {
		fmt.Fprint(os.Stderr, "Enter API key: ")
		b1, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		fmt.Fprint(os.Stderr, "Confirm API key: ")
		b2, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if string(b1) != string(b2) {
			return fmt.Errorf("keys do not match")
		}
		key = string(b1)
	}

	hash, err := hashKey(key)
	if err != nil {
		return err
	}

	printKeyEntry(os.Stdout, keyOperator, hash)
	return nil
}

func hashKey(key string) (string, error) {
	if len(key) < minKeyLength {
		return "", fmt.Errorf("key must be at least %d characters", minKeyLength)
	}
	// bcrypt ignores everything past 72 bytes
	if len(key) > 72 {
		return "", fmt.Errorf("key must be at most 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func printKeyEntry(out io.Writer, name, hash string) {
	fmt.Fprintln(out, "auth:")
	fmt.Fprintln(out, "  api_keys:")
	fmt.Fprintf(out, "    - name: %s\n", name)
	fmt.Fprintf(out, "      hash: %q\n", hash)
}

// Package main implements the admin-key CLI tool for generating the bcrypt
// hash the operator endpoints authenticate against.
//
// Usage:
//
//	go run ./cmd/tools/admin-key --key=my-ops-key
//	go run ./cmd/tools/admin-key            # reads the key from stdin
//
// The printed hash goes into OPS_ADMIN_KEY_HASH. Reading from stdin avoids
// leaving the plaintext key in shell history.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	key := flag.String("key", "", "admin key to hash; omit to read from stdin")
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	flag.Parse()

	if err := run(*key, *cost); err != nil {
		fmt.Fprintf(os.Stderr, "admin-key: %v\n", err)
		os.Exit(1)
	}
}

func run(key string, cost int) error {
	if key == "" {
		fmt.Fprint(os.Stderr, "admin key: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading key from stdin: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return fmt.Errorf("empty admin key")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}

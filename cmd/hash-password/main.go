package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/stemsi/clipexam-backend/internal/config"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// Prints a bcrypt hash for ADMIN_PASSWORD_HASH.
func main() {
	cfg := config.Load()

	fmt.Fprint(os.Stderr, "Enter Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error reading password")
		os.Exit(1)
	}
	if len(first) < 8 {
		fmt.Fprintln(os.Stderr, "Error: Password must be at least 8 characters")
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, "Confirm Password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil || string(first) != string(second) {
		fmt.Fprintln(os.Stderr, "Error: Passwords do not match")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword(first, cfg.BcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

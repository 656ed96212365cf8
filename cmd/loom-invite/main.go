// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Loom-invite creates and opens workspace invite strings.
//
//	loom-invite create --secret-file /path/to/secret
//	loom-invite open "loom-invite:..."
//
// The passphrase is prompted on the terminal, never taken from argv
// where it would be visible in the process list.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/loom-foundation/loom/lib/invite"
	"github.com/loom-foundation/loom/lib/secret"
	"github.com/loom-foundation/loom/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var secretFile string
	var showVersion bool
	pflag.StringVar(&secretFile, "secret-file", "", "workspace secret file (\"-\" for stdin)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("loom-invite %s\n", version.Info())
		return nil
	}

	switch pflag.Arg(0) {
	case "create":
		return runCreate(secretFile)
	case "open":
		if pflag.NArg() < 2 {
			return errors.New("usage: loom-invite open <invite-string>")
		}
		return runOpen(pflag.Arg(1))
	default:
		return errors.New("usage: loom-invite create|open")
	}
}

func runCreate(secretFile string) error {
	if secretFile == "" {
		return errors.New("--secret-file is required for create")
	}
	workspaceSecret, err := secret.ReadFromPath(secretFile)
	if err != nil {
		return err
	}
	defer workspaceSecret.Close()

	passphrase, err := promptPassphrase("Invite passphrase: ")
	if err != nil {
		return err
	}
	defer passphrase.Close()
	confirm, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return err
	}
	defer confirm.Close()
	if passphrase.String() != confirm.String() {
		return errors.New("passphrases do not match")
	}

	inviteString, err := invite.Create(workspaceSecret, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(inviteString)
	return nil
}

func runOpen(inviteString string) error {
	passphrase, err := promptPassphrase("Invite passphrase: ")
	if err != nil {
		return err
	}
	defer passphrase.Close()

	workspaceSecret, err := invite.Open(inviteString, passphrase)
	if err != nil {
		return err
	}
	defer workspaceSecret.Close()

	// The secret goes to stdout for piping into a secret file; prompts
	// above went to stderr-adjacent terminal writes.
	os.Stdout.Write(workspaceSecret.Bytes())
	return nil
}

func promptPassphrase(prompt string) (*secret.Buffer, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return secret.NewFromBytes(raw)
}

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/cryfs-go/cryfs/cfg"
	"golang.org/x/term"
)

// resolvePassword returns the mount password per mountCfg.Password.Source
// (spec.md §4.I, §6). It never logs the password itself.
func resolvePassword(mountCfg *cfg.Config) (string, error) {
	var (
		password string
		err      error
	)

	switch mountCfg.Password.Source {
	case cfg.PasswordFromEnvironment:
		password, err = passwordFromEnvironment(mountCfg)
	case cfg.PasswordFromFile:
		password, err = passwordFromFile(mountCfg)
	default:
		password, err = passwordFromPrompt(mountCfg)
	}
	if err != nil {
		return "", err
	}
	if password == "" {
		exitWith(exitEmptyPassword, fmt.Errorf("the mount password must not be empty"))
	}
	return password, nil
}

func passwordFromEnvironment(mountCfg *cfg.Config) (string, error) {
	name := mountCfg.Password.EnvVarName
	if name == "" {
		return "", fmt.Errorf("password.source=environment requires password.env-var-name")
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return value, nil
}

func passwordFromFile(mountCfg *cfg.Config) (string, error) {
	path := string(mountCfg.Password.FilePath)
	if path == "" {
		return "", fmt.Errorf("password.source=file requires password.file-path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading password file %s: %w", path, err)
	}
	return strings.TrimRight(string(raw), "\n"), nil
}

// passwordFromPrompt reads a password from the controlling terminal with
// echo disabled. Refuses to prompt under CRYFS_FRONTEND=noninteractive or
// password.noninteractive, matching the batch-mode contract a scripted
// mount relies on: fail fast rather than hang waiting on stdin.
func passwordFromPrompt(mountCfg *cfg.Config) (string, error) {
	if isNoninteractive(mountCfg) {
		return "", fmt.Errorf("password.source=interactive requires a terminal, but noninteractive mode is set")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password from terminal: %w", err)
	}
	return string(raw), nil
}

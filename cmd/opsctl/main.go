// Command opsctl prepares operator credentials for the ticketbot ops API.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/spec-kit/ticketbot/internal/auth"
)

const usage = `usage: opsctl <command> [flags]

commands:
  hash-password   prompt for a password and print its bcrypt hash
  issue-token     sign an ops API token without logging in
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hash-password":
		err = hashPassword(os.Args[2:])
	case "issue-token":
		err = issueToken(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "opsctl:", err)
		os.Exit(1)
	}
}

func hashPassword(args []string) error {
	fs := pflag.NewFlagSet("hash-password", pflag.ContinueOnError)
	cost := fs.Int("cost", 0, "bcrypt cost (0 uses the library default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := auth.HashPassword(password, *cost)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("hash-password needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func issueToken(args []string) error {
	fs := pflag.NewFlagSet("issue-token", pflag.ContinueOnError)
	envFile := fs.String("env-file", "", "path to a .env file holding OPS_JWT_SECRET")
	operator := fs.String("operator", "", "operator name recorded in the token")
	role := fs.String("role", string(auth.RoleViewer), "token role: admin or viewer")
	ttl := fs.Int("ttl-minutes", 60, "token lifetime in minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load %s: %w", *envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}
	secret := os.Getenv("OPS_JWT_SECRET")
	if secret == "" {
		return errors.New("OPS_JWT_SECRET is not set")
	}
	name := strings.TrimSpace(*operator)
	if name == "" {
		return errors.New("--operator is required")
	}

	token, exp, err := auth.NewTokenManager(secret, *ttl).GenerateToken(name, auth.OperatorRole(*role))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Println(token)
	return nil
}

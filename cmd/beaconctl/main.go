// Command beaconctl is the operator tool for keys, secrets and accounts.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"beacon.org/internal/auth"
	"beacon.org/internal/crypto"
	"beacon.org/internal/secrets"
	"beacon.org/internal/store/sqlstore"
)

type ctlEnv struct {
	EncryptionKey string `env:"BEACON_ENCRYPTION_KEY"`
	BcryptCost    int    `env:"BEACON_BCRYPT_COST" envDefault:"10"`
	DBDriver      string `env:"BEACON_DB_DRIVER" envDefault:"pgx"`
	DBDSN         string `env:"BEACON_DB_DSN"`
}

const usage = `usage: beaconctl <command> [flags]

commands:
  keygen          print a fresh 256-bit encryption key as hex
  encrypt         encrypt stdin with BEACON_ENCRYPTION_KEY
  decrypt         decrypt a blob read from stdin
  mask            print the masked form of stdin
  hash-password   print a bcrypt hash of the password read from stdin
  create-user     create an account (see create-user -h)
  put-secret      store stdin as an organization secret (-org, -name)
  reveal          print the plaintext of an organization secret (-org, -name)`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "beaconctl:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	var cfg ctlEnv
	if err := env.Parse(&cfg); err != nil {
		return err
	}
	return dispatch(cfg, args, stdin, stdout)
}

func dispatch(cfg ctlEnv, args []string, stdin io.Reader, stdout io.Writer) error {
	switch args[0] {
	case "keygen":
		return keygen(stdout)
	case "encrypt", "decrypt":
		svc, err := encryptionService(cfg)
		if err != nil {
			return err
		}
		in, err := readInput(stdin)
		if err != nil {
			return err
		}
		var out string
		if args[0] == "encrypt" {
			out, err = svc.Encrypt(in)
		} else {
			out, err = svc.Decrypt(strings.TrimSpace(in))
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, out)
		return err
	case "mask":
		in, err := readInput(stdin)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, crypto.Mask(in))
		return err
	case "hash-password":
		in, err := readInput(stdin)
		if err != nil {
			return err
		}
		hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(in)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, hash)
		return err
	case "create-user":
		return createUser(cfg, args[1:], stdin, stdout)
	case "put-secret", "reveal":
		return secretCommand(cfg, args[0], args[1:], stdin, stdout)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func keygen(stdout io.Writer) error {
	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	_, err := fmt.Fprintln(stdout, hex.EncodeToString(key))
	return err
}

func encryptionService(cfg ctlEnv) (*crypto.Service, error) {
	keys, err := crypto.LoadKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("BEACON_ENCRYPTION_KEY: %w", err)
	}
	return crypto.NewService(keys)
}

// readInput returns stdin without its trailing newline.
func readInput(stdin io.Reader) (string, error) {
	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func createUser(cfg ctlEnv, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	var (
		email   = fs.String("email", "", "login email (required)")
		name    = fs.String("name", "", "display name")
		title   = fs.String("title", "", "job title")
		role    = fs.String("role", auth.RoleEmployee, "ADMIN, MANAGER or EMPLOYEE")
		orgID   = fs.String("org", "", "organization id")
		orgName = fs.String("org-name", "", "create or rename the organization with this name")
		noPass  = fs.Bool("no-password", false, "create without a password; login stays disabled")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("create-user: -email is required")
	}
	if cfg.DBDSN == "" {
		return errors.New("create-user: BEACON_DB_DSN is required")
	}

	var hash string
	if !*noPass {
		password, err := readInput(stdin)
		if err != nil {
			return err
		}
		hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
		if err != nil {
			return err
		}
		if hash, err = hasher.Hash(password); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if *orgName != "" {
		org, err := store.UpsertOrganization(ctx, auth.Organization{ID: *orgID, Name: *orgName})
		if err != nil {
			return err
		}
		*orgID = org.ID
	}
	cred, err := store.CreateCredential(ctx, auth.Credential{
		Email:          *email,
		Name:           *name,
		Title:          *title,
		Role:           *role,
		PasswordHash:   hash,
		OrganizationID: *orgID,
		IsActive:       true,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "created %s (%s) in organization %q\n", cred.ID, cred.Email, cred.OrganizationID)
	return err
}

// secretCommand runs put-secret or reveal against the vault in BEACON_DB_DSN.
func secretCommand(cfg ctlEnv, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		orgID = fs.String("org", "", "organization id (required)")
		name  = fs.String("name", "", "secret name (required)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orgID == "" || *name == "" {
		return fmt.Errorf("%s: -org and -name are required", cmd)
	}
	if cfg.DBDSN == "" {
		return fmt.Errorf("%s: BEACON_DB_DSN is required", cmd)
	}
	enc, err := encryptionService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	vault := secrets.NewVault(store, enc)

	if cmd == "reveal" {
		plain, err := vault.Reveal(ctx, *orgID, *name)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, plain)
		return err
	}
	value, err := readInput(stdin)
	if err != nil {
		return err
	}
	m, err := vault.Put(ctx, *orgID, *name, value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "stored %s %s\n", m.Name, m.Preview)
	return err
}

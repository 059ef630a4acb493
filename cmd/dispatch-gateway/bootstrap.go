// ABOUTME: bootstrap subcommand that creates the config, database and an operator account
// ABOUTME: Generates a JWT secret on first run and saves a session token for the CLI

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/2389/dispatch-gateway/internal/auth"
	"github.com/2389/dispatch-gateway/internal/config"
	"github.com/2389/dispatch-gateway/internal/store"
)

const cliTokenTTL = 30 * 24 * time.Hour

type bootstrapOptions struct {
	username string
	password string
	fullName string
	role     string
}

func parseBootstrapFlags(args []string) (bootstrapOptions, error) {
	var opts bootstrapOptions
	fs := pflag.NewFlagSet("bootstrap", pflag.ContinueOnError)
	fs.StringVarP(&opts.username, "username", "u", "", "operator username (required)")
	fs.StringVarP(&opts.password, "password", "p", "", "operator password (required)")
	fs.StringVar(&opts.fullName, "name", "", "display name (defaults to the username)")
	fs.StringVar(&opts.role, "role", store.RoleAdmin, "role: admin or operator")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	opts.username = strings.TrimSpace(opts.username)
	if opts.username == "" {
		return opts, errors.New("--username flag is required")
	}
	if len(opts.username) > 100 {
		return opts, errors.New("username exceeds maximum length of 100 characters")
	}
	if opts.password == "" {
		return opts, errors.New("--password flag is required")
	}
	if opts.role != store.RoleAdmin && opts.role != store.RoleOperator {
		return opts, fmt.Errorf("unknown role %q", opts.role)
	}
	if opts.fullName == "" {
		opts.fullName = opts.username
	}
	return opts, nil
}

// ensureConfig loads the config file, writing one with a fresh JWT secret if
// none exists yet.
func ensureConfig(configPath, dataPath string) (*config.Config, bool, error) {
	if _, err := os.Stat(configPath); err == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, false, fmt.Errorf("loading config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return nil, false, fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		return cfg, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("checking config: %w", err)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, false, fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)
	dbPath := filepath.Join(dataPath, "gateway.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, false, fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, false, fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# dispatch-gateway configuration
# Generated by dispatch-gateway bootstrap

server:
  http_addr: "0.0.0.0:5000"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

agents:
  ping_interval: "30s"
  pong_timeout: "60s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return nil, false, fmt.Errorf("writing config file: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

// runBootstrap creates the config (if missing), the operator database and
// one operator account, then saves a session token for the CLI.
func runBootstrap(ctx context.Context, args []string) error {
	opts, err := parseBootstrapFlags(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cfg, created, err := ensureConfig(configPath, getDataPath())
	if err != nil {
		return err
	}
	if created {
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	user, err := createOperator(ctx, s, opts)
	if err != nil {
		return err
	}
	green.Printf("  ✓ Created %s: %s\n", user.Role, user.Username)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, cliTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := tokenFilePath(configPath)
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Operator")
	cyan.Println("  --------")
	fmt.Printf("  ID:        %s\n", user.ID)
	fmt.Printf("  Username:  %s\n", user.Username)
	fmt.Printf("  Name:      %s\n", user.FullName)
	fmt.Printf("  Role:      %s\n", user.Role)
	fmt.Printf("  Token:     %s (expires %s)\n", tokenPath, time.Now().Add(cliTokenTTL).Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    dispatch-gateway serve      # start the gateway")
	fmt.Println("    dispatch-gateway clients    # list waiting agents")
	fmt.Println()

	return nil
}

func createOperator(ctx context.Context, s store.UserStore, opts bootstrapOptions) (*store.User, error) {
	hash, err := auth.HashPassword(opts.password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     opts.username,
		FullName:     opts.fullName,
		Role:         opts.role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameExists) {
			return nil, fmt.Errorf("operator %q already exists", opts.username)
		}
		return nil, fmt.Errorf("creating operator: %w", err)
	}
	return user, nil
}

// tokenFilePath is where bootstrap saves the CLI session token.
func tokenFilePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

// Package migrate holds the schema and bootstrap CLI commands.
package migrate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/auth"
	"github.com/moguard-inc/moguard/internal/infrastructure/config"
	"github.com/moguard-inc/moguard/internal/infrastructure/database"
	"github.com/moguard-inc/moguard/internal/infrastructure/repository"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

var env string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema tools",
		Long:  `Apply the database schema and bootstrap the first owner admin.`,
	}

	cmd.PersistentFlags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")

	cmd.AddCommand(
		newUpCommand(),
		newCreateOwnerCommand(),
	)

	return cmd
}

func newUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply the schema",
		Long:  `Create or update every table the application uses.`,
		RunE:  runUp,
	}
}

func newCreateOwnerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-owner",
		Short: "Bootstrap the first owner admin",
		Long:  `Create an owner admin interactively; the password is read from the terminal.`,
		RunE:  runCreateOwner,
	}
	cmd.Flags().String("username", "", "Owner username (prompted when empty)")
	return cmd
}

func setup() error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func runUp(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer database.Close()

	err := database.Get().AutoMigrate(
		&admin.Admin{},
		&service.Service{},
		&node.Node{},
		&subscription.Subscription{},
		&subscription.AutoRenewal{},
		&subscription.Usage{},
		&subscription.UsageLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("schema applied")
	return nil
}

func runCreateOwner(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer database.Close()

	username, _ := cmd.Flags().GetString("username")
	if username == "" {
		fmt.Print("Username: ")
		if _, err := fmt.Scanln(&username); err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
	}
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	cfg := config.Get()
	hasher := auth.NewBcryptPasswordHasher(cfg.Auth.Password.BcryptCost)
	hashed, err := hasher.Hash(string(password))
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admins := repository.NewAdminRepository(database.Get(), logger.NewLogger())
	existing, err := admins.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("admin %q already exists", username)
	}

	a := &admin.Admin{
		Enabled:        true,
		Username:       &username,
		HashedPassword: hashed,
		Role:           admin.RoleOwner,
		APIKey:         keys.NewAPIKey(),
		Secret:         keys.NewSecret(),
	}
	if err := admins.Create(ctx, a); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "owner %q created, api key: %s\n", username, a.APIKey)
	return nil
}

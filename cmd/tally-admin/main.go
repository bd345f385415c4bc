package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"tally/internal/auth"
	"tally/internal/config"
	"tally/internal/core"
	"tally/internal/storage"
)

// tally-admin bootstraps the first administrator account. If the
// username already exists it is promoted, otherwise the account is
// created after prompting for a password.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	dbPath := flag.String("db", cfg.SQLiteDBPath, "path to the SQLite database")
	username := flag.String("user", "", "username to create or promote")
	flag.Parse()

	if *username == "" {
		flag.Usage()
		return errors.New("-user is required")
	}

	repo, err := storage.NewSQLiteRepository(*dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := context.Background()

	u, err := repo.GetUserByUsername(ctx, *username)
	switch {
	case err == nil:
		if u.Role == core.RoleAdmin {
			fmt.Printf("%s is already an admin\n", u.Username)
			return nil
		}
		if err := repo.SetUserRole(ctx, u.ID, core.RoleAdmin); err != nil {
			return err
		}
		fmt.Printf("promoted %s to admin\n", u.Username)
		return nil
	case errors.Is(err, core.ErrNotFound):
		return createAdmin(ctx, repo, *username)
	default:
		return err
	}
}

func createAdmin(ctx context.Context, repo *storage.SQLiteRepository, username string) error {
	password, err := promptPassword()
	if err != nil {
		return err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	u := core.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         core.RoleAdmin,
	}
	if err := repo.CreateUser(ctx, u); err != nil {
		return err
	}

	fmt.Printf("created admin %s\n", u.Username)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}

	fmt.Print("confirm: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

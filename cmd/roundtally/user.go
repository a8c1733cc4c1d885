package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/identity"
	"github.com/ernie/roundtally/internal/storage"
)

// cmdUser handles platform user subcommands against the database directly
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, link, remove, list\n")
		os.Exit(1)
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("user "+subCmd, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	displayName := fs.String("name", "", "display name (add only)")
	fs.Parse(args[1:])
	remaining := fs.Args()

	// cfg may be nil if config loading failed
	cfg := loadCLIConfigFromFlags(*configPath, "")
	conv := identity.NewConverter(nil, 1)
	if cfg != nil {
		conv = identity.NewConverter(cfg.Identity.Overrides, cfg.Identity.LegacyUniverse)
	}

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, conv, *displayName, remaining)
	case "link":
		err = cmdUserLink(ctx, store, conv, remaining)
	case "remove":
		err = cmdUserRemove(ctx, store, remaining)
	case "list":
		err = cmdUserList(ctx, store, conv)
	default:
		err = fmt.Errorf("unknown user command: %s (use: add, link, remove, list)", subCmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, conv *identity.Converter, displayName string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: roundtally user add [--name NAME] <username> <game-id>")
	}
	username, externalID := args[0], args[1]

	accountID, format, err := conv.ParseExternalID(externalID)
	if err != nil {
		return err
	}

	u := &domain.PlatformUser{Username: username, ExternalID: externalID, DisplayName: displayName}
	if err := store.CreatePlatformUser(ctx, u); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("User '%s' created (id %d, account %d from %s id)\n", username, u.ID, accountID, format)
	return nil
}

func cmdUserLink(ctx context.Context, store *storage.Store, conv *identity.Converter, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: roundtally user link <username> <game-id>")
	}
	username, externalID := args[0], args[1]

	accountID, _, err := conv.ParseExternalID(externalID)
	if err != nil {
		return err
	}
	if err := store.UpdatePlatformUserExternalID(ctx, username, externalID); err != nil {
		return fmt.Errorf("failed to link user: %w", err)
	}
	fmt.Printf("User '%s' linked to account %d\n", username, accountID)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: roundtally user remove <username>")
	}
	username := args[0]

	if err := store.DeletePlatformUser(ctx, username); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store, conv *identity.Converter) error {
	users, err := store.ListPlatformUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tGAME_ID\tACCOUNT")
	fmt.Fprintln(w, "--\t--------\t----\t-------\t-------")

	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = "-"
		}
		account := "invalid"
		if id, _, err := conv.ParseExternalID(u.ExternalID); err == nil {
			account = fmt.Sprintf("%d", id)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, name, u.ExternalID, account)
	}
	return w.Flush()
}

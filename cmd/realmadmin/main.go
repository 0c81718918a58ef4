// realmadmin is an operator tool for account management.
//
// Usage:
//
//	go run ./cmd/realmadmin <command> [flags]
//
// Commands: create-player, mint-token, ban, unban, timeout, purge-tokens
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openrealm/server/internal/config"
	"github.com/openrealm/server/internal/persist"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: realmadmin <create-player|mint-token|ban|unban|timeout|purge-tokens> [flags]")
	}
	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ExitOnError)

	cfgPath := fs.String("config", "config/server.toml", "server config file")
	username := fs.String("username", "", "player username")
	password := fs.String("password", "", "player password (create-player)")
	mapID := fs.String("map", "overworld", "starting map (create-player)")
	x := fs.Int("x", 0, "starting x (create-player)")
	y := fs.Int("y", 0, "starting y (create-player)")
	hp := fs.Int("hp", 10, "starting max hp (create-player)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime (mint-token)")
	until := fs.Duration("for", time.Hour, "timeout duration (timeout); 0 clears it")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}
	if p := os.Getenv("OPENREALM_CONFIG"); p != "" && !flagPassed(fs, "config") {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Pool.Close()
	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	players := persist.NewPlayerRepo(db)
	tokens := persist.NewTokenRepo(db)

	switch command {
	case "create-player":
		if *username == "" || *password == "" {
			return fmt.Errorf("create-player requires -username and -password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		row := &persist.PlayerRow{
			Username:     *username,
			PasswordHash: string(hash),
			MapID:        *mapID,
			X:            *x,
			Y:            *y,
			Facing:       "south",
			CurrentHP:    *hp,
			MaxHP:        *hp,
		}
		if err := players.Create(ctx, row); err != nil {
			return fmt.Errorf("create player: %w", err)
		}
		fmt.Printf("created player %q id=%d at %s (%d,%d)\n", row.Username, row.ID, row.MapID, row.X, row.Y)

	case "mint-token":
		row, err := requirePlayer(ctx, players, *username)
		if err != nil {
			return err
		}
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return err
		}
		token := hex.EncodeToString(raw)
		expires := time.Now().Add(*ttl)
		if err := tokens.Insert(ctx, persist.HashToken(token), row.ID, expires); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		// The raw token is printed once and never stored.
		fmt.Printf("token for %q (expires %s):\n%s\n", row.Username, expires.Format(time.RFC3339), token)

	case "ban":
		row, err := requirePlayer(ctx, players, *username)
		if err != nil {
			return err
		}
		if err := players.SetBanned(ctx, row.ID, true); err != nil {
			return err
		}
		fmt.Printf("banned %q\n", row.Username)

	case "unban":
		row, err := requirePlayer(ctx, players, *username)
		if err != nil {
			return err
		}
		if err := players.SetBanned(ctx, row.ID, false); err != nil {
			return err
		}
		fmt.Printf("unbanned %q\n", row.Username)

	case "timeout":
		row, err := requirePlayer(ctx, players, *username)
		if err != nil {
			return err
		}
		if *until <= 0 {
			if err := players.SetTimeout(ctx, row.ID, nil); err != nil {
				return err
			}
			fmt.Printf("cleared timeout for %q\n", row.Username)
			break
		}
		t := time.Now().Add(*until)
		if err := players.SetTimeout(ctx, row.ID, &t); err != nil {
			return err
		}
		fmt.Printf("timed out %q until %s\n", row.Username, t.Format(time.RFC3339))

	case "purge-tokens":
		n, err := tokens.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired tokens\n", n)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func requirePlayer(ctx context.Context, repo *persist.PlayerRepo, username string) (*persist.PlayerRow, error) {
	if username == "" {
		return nil, fmt.Errorf("-username is required")
	}
	row, err := repo.LoadByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("no player named %q", username)
	}
	return row, nil
}

func flagPassed(fs *flag.FlagSet, name string) bool {
	passed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

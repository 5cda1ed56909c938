package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"admincore.org/internal/access"
	"admincore.org/internal/ids"
	"admincore.org/internal/migrate"
	"admincore.org/internal/plan"
	"admincore.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	var (
		dsn            = flag.String("dsn", os.Getenv("ADMINCORE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ADMINCORE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|admin-create|admin-disable|user-ensure]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "admin-create":
		err = adminCreate(ctx, pg.NewWithDB(db))
	case "admin-disable":
		err = adminDisable(ctx, pg.NewWithDB(db))
	case "user-ensure":
		err = userEnsure(ctx, pg.NewWithDB(db))
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// adminCreate provisions an operator account. The password comes from the
// environment so it never lands in shell history.
func adminCreate(ctx context.Context, store *pg.Store) error {
	email := strings.TrimSpace(flag.Arg(1))
	if email == "" || flag.Arg(2) == "" {
		return errors.New("usage: migrate admin-create <email> <role>")
	}
	role, err := access.ParseRole(flag.Arg(2))
	if err != nil {
		return err
	}
	password := os.Getenv("ADMINCORE_ADMIN_PASSWORD")
	if password == "" {
		return errors.New("missing ADMINCORE_ADMIN_PASSWORD")
	}
	hash, err := access.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &access.Admin{
		ID:           "adm-" + ids.New(),
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		Status:       access.AdminStatusActive,
	}
	if err := store.CreateAdmin(ctx, admin); err != nil {
		return err
	}
	fmt.Printf("created %s admin %s (%s)\n", role, admin.ID, admin.Email)
	return nil
}

func adminDisable(ctx context.Context, store *pg.Store) error {
	id := strings.TrimSpace(flag.Arg(1))
	if id == "" {
		return errors.New("usage: migrate admin-disable <admin-id>")
	}
	// Token checks re-read the registry, so the lockout takes effect on the
	// account's next request.
	if err := store.SetAdminStatus(ctx, id, access.AdminStatusDisabled); err != nil {
		return err
	}
	fmt.Printf("disabled admin %s\n", id)
	return nil
}

func userEnsure(ctx context.Context, store *pg.Store) error {
	userID := strings.TrimSpace(flag.Arg(1))
	if userID == "" {
		return errors.New("usage: migrate user-ensure <user-id> [plan]")
	}
	target := plan.Free
	if raw := flag.Arg(2); raw != "" {
		var err error
		if target, err = plan.ParsePlan(raw); err != nil {
			return err
		}
	}
	if err := store.Plans().EnsureUser(ctx, userID, target); err != nil {
		return err
	}
	fmt.Printf("user %s is on plan %s\n", userID, target)
	return nil
}

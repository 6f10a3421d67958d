package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
	"github.com/atbridge-dev/atbridge/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		storePath       string
		userID          int64
		handle          string
		password        string
		pds             string
		completeThreads bool
		unlink          bool
		status          bool
	)

	flag.StringVar(&storePath, "store", envOrDefault("ATBRIDGE_STORE_PATH", "atbridge.db"), "path to the bridge database")
	flag.Int64Var(&userID, "user", 0, "local user id to bind")
	flag.StringVar(&handle, "handle", "", "AT Protocol handle (e.g. alice.bsky.social)")
	flag.StringVar(&password, "app-password", envOrDefault("ATBRIDGE_APP_PASSWORD", ""), "app password (not the account password)")
	flag.StringVar(&pds, "pds", "", "override the resolved PDS endpoint")
	flag.BoolVar(&completeThreads, "complete-threads", false, "fetch full threads when reply counts exceed local state")
	flag.BoolVar(&unlink, "unlink", false, "remove the binding instead of creating one")
	flag.BoolVar(&status, "status", false, "print the bindings and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	db, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if status {
		return printStatus(ctx, db)
	}

	if userID == 0 {
		return fmt.Errorf("--user is required")
	}

	if unlink {
		if err := db.DeleteAccount(ctx, userID); err != nil {
			return fmt.Errorf("unlink user %d: %w", userID, err)
		}
		fmt.Printf("Unlinked user %d\n", userID)
		return nil
	}

	if handle == "" || password == "" {
		return fmt.Errorf("--handle and --app-password are required (or set ATBRIDGE_APP_PASSWORD)")
	}

	client := atproto.NewClient(logger)
	acct := &domain.Account{
		ID:              userID,
		Handle:          handle,
		AppPassword:     password,
		CompleteThreads: completeThreads,
	}

	fmt.Printf("Resolving %s...\n", handle)
	did, err := client.ResolveDID(ctx, handle)
	if err != nil {
		acct.Status = domain.StatusDIDFail
		saveAndReport(ctx, db, acct)
		return err
	}
	acct.DID = did

	if pds == "" {
		pds, err = client.ResolvePDS(ctx, did)
		if err != nil {
			acct.Status = domain.StatusPDSFail
			saveAndReport(ctx, db, acct)
			return err
		}
	}
	acct.PDS = pds

	sess, err := client.CreateSession(ctx, pds, handle, password)
	if err != nil {
		acct.Status = domain.StatusTokenFail
		saveAndReport(ctx, db, acct)
		return err
	}
	acct.AccessJwt = sess.AccessJwt
	acct.RefreshJwt = sess.RefreshJwt
	acct.Status = domain.StatusSuccess

	if err := db.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	fmt.Printf("Linked user %d as %s\n", userID, did)
	fmt.Printf("PDS: %s\n", pds)
	return nil
}

func printStatus(ctx context.Context, db *store.Store) error {
	accounts, err := db.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		fmt.Println("No linked accounts.")
		return nil
	}
	for _, a := range accounts {
		fmt.Printf("user %d\t%s\t%s\t%s\t%s\n", a.ID, a.Handle, a.DID, a.PDS, a.Status)
	}
	return nil
}

func saveAndReport(ctx context.Context, db *store.Store, acct *domain.Account) {
	if err := db.SaveAccount(ctx, acct); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not record status: %v\n", err)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Command admintoken mints a bearer token for the read-only admin API.
//
//	admintoken -sub ops@example.com -role viewer -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"voice-recorder/internal/auth"
	"voice-recorder/internal/config"
	"voice-recorder/internal/rbac"
)

func main() {
	sub := flag.String("sub", "", "token subject (operator id)")
	role := flag.String("role", rbac.RoleViewer, "role: admin or viewer")
	ttl := flag.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	if *sub == "" {
		fmt.Fprintln(os.Stderr, "admintoken: -sub is required")
		flag.Usage()
		os.Exit(2)
	}
	if !rbac.IsKnownRole(*role) {
		fmt.Fprintf(os.Stderr, "admintoken: unknown role %q\n", *role)
		os.Exit(2)
	}

	cfg, err := config.LoadAdmin()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	tok, err := m.Issue(time.Now(), *sub, *role, *ttl)
	if err != nil {
		slog.Error("token issuance failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

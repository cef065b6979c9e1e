// Command tokengen mints bearer tokens for operators and checkpoint devices.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	subject := flag.String("sub", "", "username the token authenticates")
	role := flag.String("role", string(access.RoleMember), "admin, checkpoint or member")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	r, err := access.ParseRole(*role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	token, err := auth.NewTokens(cfg.Server.JWTSecret, cfg.Server.JWTIssuer).Issue(*subject, r, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println(token)
}

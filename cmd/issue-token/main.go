// Command issue-token mints a bearer token for local development.
package main

import (
	"flag"
	"fmt"
	"loan_manager/internal/domain"
	"loan_manager/pkg/crypto"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

type tokenConfig struct {
	Secret string        `env:"TOKEN_SECRET,required,notEmpty"`
	TTL    time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
}

func main() {
	user := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", "", "role code: LP, LC or BP")
	subject := flag.String("subject", "", "provider, customer or personnel id the user acts for")
	ttl := flag.Duration("ttl", 0, "token lifetime, overrides TOKEN_TTL")
	flag.Parse()

	var cfg tokenConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.TTL = *ttl
	}

	p := domain.Principal{UserID: *user, Role: domain.Role(*role), SubjectID: *subject}
	if p.UserID == "" || p.SubjectID == "" || !p.Role.Valid() {
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	token, err := crypto.NewTokenSigner(cfg.Secret, cfg.TTL, logger).Issue(p)
	if err != nil {
		logger.Error("Failed to issue token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Println(token)
}

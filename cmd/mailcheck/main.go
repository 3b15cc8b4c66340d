// Command mailcheck sends one password reset email through SendGrid to
// verify mail credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"notekeep/config"
	"notekeep/logger"
	"notekeep/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.LogLevel, true)

	to := flag.String("to", "", "recipient address")
	flag.Parse()

	if *to == "" {
		log.Fatal().Msg("-to is required")
	}
	if err := utils.ValidateEmail(*to); err != nil {
		log.Fatal().Err(err).Msg("invalid recipient")
	}
	if cfg.SendGridAPIKey == "" {
		log.Fatal().Msg("SENDGRID_API_KEY is not set")
	}

	token, err := utils.NewResetTokens(cfg.SecretKey, nil).Issue(*to)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	notifier := utils.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom)
	if err := notifier.SendPasswordReset(ctx, *to, base+"/reset/"+token); err != nil {
		log.Fatal().Err(err).Msg("sending failed")
	}
	log.Info().Str("to", *to).Msg("success")
}

// Package notify sends confirmation receipts to shop owners over SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/khata/pkg/errorsx"
)

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

// SMSSender delivers one-way notification texts via the Twilio REST API.
type SMSSender struct {
	cfg    Config
	client messageCreator
	log    *slog.Logger
}

func NewSMSSender(cfg Config, log *slog.Logger) *SMSSender {
	if log == nil {
		log = slog.Default()
	}
	return &SMSSender{cfg: cfg, log: log}
}

// Send delivers body to the given E.164 number.
func (s *SMSSender) Send(ctx context.Context, to, body string) (string, error) {
	_ = ctx
	if to == "" || body == "" {
		return "", errorsx.Wrap(errors.New("to/body required"), errorsx.ReasonSMSSend)
	}
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return "", errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonSMSSend)
	}
	client := s.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.cfg.AccountSID,
			Password: s.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.From)
	params.SetBody(body)
	resp, err := client.CreateMessage(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSMSSend)
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.Wrap(fmt.Errorf("missing message sid"), errorsx.ReasonSMSSend)
	}
	s.log.Info("sms sent", "to", to, "sid", *resp.Sid)
	return *resp.Sid, nil
}

// TransactionReceipt formats the post-execution summary text.
func TransactionReceipt(summary string, amount float64) string {
	if amount > 0 {
		return fmt.Sprintf("Khata update: %s (₹%.2f)", summary, amount)
	}
	return "Khata update: " + summary
}

package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
)

// SMTPConfig parameterizes the SMTP relay used for forwarding.
type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	TLSMode    string `mapstructure:"tls_mode"` // "", "starttls", "smtps"
	SkipVerify bool   `mapstructure:"skip_verify"`
}

// SMTPSender relays raw messages through an SMTP server.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender builds a sender for the configured relay.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendRaw(_ context.Context, source string, destinations []string, raw []byte) error {
	if len(destinations) == 0 {
		return fmt.Errorf("forward: no destinations")
	}
	client, err := s.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.User != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("forward: smtp auth: %w", err)
		}
	}
	if err := client.Mail(source); err != nil {
		return fmt.Errorf("forward: set sender: %w", err)
	}
	for _, to := range destinations {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("forward: set recipient %s: %w", to, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("forward: open data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("forward: write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("forward: close data: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) dial() (*smtp.Client, error) {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.SkipVerify,
	}
	switch s.cfg.TLSMode {
	case "smtps":
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("forward: smtps dial: %w", err)
		}
		client, err := smtp.NewClient(conn, s.cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("forward: smtp client: %w", err)
		}
		return client, nil
	default:
		client, err := smtp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("forward: smtp dial: %w", err)
		}
		if s.cfg.TLSMode == "starttls" {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("forward: starttls: %w", err)
			}
		}
		return client, nil
	}
}

// NoopSender discards messages; used when forwarding transport is disabled.
type NoopSender struct{}

func (NoopSender) SendRaw(context.Context, string, []string, []byte) error {
	return nil
}

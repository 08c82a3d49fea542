package email

// Config holds email service configuration. Postmark tokens are optional so
// development environments can fall back to the dev sender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@localhost"`
}

// Configured reports whether Postmark credentials are present.
func (c Config) Configured() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}

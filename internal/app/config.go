package app

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-payments/internal/collab"
	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/domain/returns"
	"github.com/xenking/kart-payments/internal/gateway"
	"github.com/xenking/kart-payments/internal/ratelimit"
)

// Config holds the complete application configuration, loadable from
// environment variables (PAYGATE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PAYGATE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"" usage:"Redis URL for the shared rate limiter and webhook dedup; memory when empty" flag:"redis-url"`
	BaseURL      string `default:"http://localhost:8080" usage:"Public base URL used for provider callbacks" flag:"base-url"`
	APIKeyPepper string `usage:"HMAC pepper for operator API key hashing (PAYGATE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Gateways     GatewaysConfig
	Webhook      WebhookConfig
	RateLimit    ratelimit.Policy
	Returns      ReturnsConfig
	Collab       CollabConfig
	Kafka        KafkaConfig
	Timeouts     TimeoutsConfig
	Graceful     GracefulConfig
}

// GatewaysConfig holds provider credentials and webhook secrets.
type GatewaysConfig struct {
	Checkout     CheckoutConfig
	Installments InstallmentsConfig
	Mobile       MobileConfig
}

// CheckoutConfig is the redirect processor section.
type CheckoutConfig struct {
	APIURL        string `default:"https://api.checkout.example" usage:"Checkout processor API base URL"`
	AccessToken   string `usage:"Checkout processor access token"`
	PublicKey     string `usage:"Checkout processor public key"`
	WebhookSecret string `usage:"Shared secret for checkout webhook signatures"`
}

// InstallmentsConfig is the financing processor section.
type InstallmentsConfig struct {
	APIURL        string `default:"https://api.installments.example" usage:"Installments processor API base URL"`
	ClientID      string `usage:"Installments processor client id"`
	ClientSecret  string `usage:"Installments processor client secret"`
	WebhookSecret string `usage:"Shared secret for installments webhook signatures"`
}

// MobileConfig is the wallet processor section.
type MobileConfig struct {
	APIURL        string `default:"https://api.wallet.example" usage:"Mobile wallet API base URL"`
	APIKey        string `usage:"Mobile wallet API key"`
	MerchantID    string `usage:"Mobile wallet merchant id"`
	WebhookSecret string `usage:"Shared secret for mobile webhook signatures"`
}

// Secrets returns the webhook secret of every gateway.
func (g GatewaysConfig) Secrets() map[payment.Gateway]string {
	return map[payment.Gateway]string{
		payment.GatewayCheckout:     g.Checkout.WebhookSecret,
		payment.GatewayInstallments: g.Installments.WebhookSecret,
		payment.GatewayMobile:       g.Mobile.WebhookSecret,
	}
}

// Adapters builds one adapter per gateway sharing client.
func (g GatewaysConfig) Adapters(callbacks gateway.Callbacks, client *http.Client) []gateway.Adapter {
	return []gateway.Adapter{
		gateway.NewCheckout(gateway.CheckoutConfig{
			APIURL:      g.Checkout.APIURL,
			AccessToken: g.Checkout.AccessToken,
			PublicKey:   g.Checkout.PublicKey,
		}, callbacks, client),
		gateway.NewInstallments(gateway.InstallmentsConfig{
			APIURL:       g.Installments.APIURL,
			ClientID:     g.Installments.ClientID,
			ClientSecret: g.Installments.ClientSecret,
		}, callbacks, client),
		gateway.NewMobile(gateway.MobileConfig{
			APIURL:     g.Mobile.APIURL,
			APIKey:     g.Mobile.APIKey,
			MerchantID: g.Mobile.MerchantID,
		}, callbacks, client),
	}
}

// WebhookConfig tunes the inbound notification pipeline.
type WebhookConfig struct {
	Tolerance    time.Duration    `default:"5m" usage:"Accepted distance between signature timestamp and local clock"`
	RateLimit    ratelimit.Policy `usage:"Per gateway and source webhook limit"`
	DedupTTL     time.Duration    `default:"72h" usage:"How long delivered event ids are remembered"`
	MaxBodyBytes int64            `default:"1048576" usage:"Maximum accepted request body"`
}

// ReturnsConfig tunes the returns workflow.
type ReturnsConfig struct {
	AllowOverride  bool          `default:"false" usage:"Allow operators to bypass the status transition table" flag:"returns-allow-override"`
	Channels       []string      `default:"email" usage:"Notification channels (email, sms, whatsapp)"`
	CouponPrefix   string        `default:"CAMBIO" usage:"Prefix of exchange coupon codes"`
	CouponValidity time.Duration `default:"2160h" usage:"Validity of exchange coupons"`
}

// WorkflowConfig converts the section to the workflow's Config.
func (r ReturnsConfig) WorkflowConfig() (returns.Config, error) {
	cfg := returns.Config{AllowOverride: r.AllowOverride, CouponValidity: r.CouponValidity}
	for _, raw := range r.Channels {
		ch := returns.Channel(strings.ToLower(strings.TrimSpace(raw)))
		switch ch {
		case returns.ChannelEmail, returns.ChannelSMS, returns.ChannelWhatsApp:
			cfg.Channels = append(cfg.Channels, ch)
		case "":
		default:
			return cfg, errors.Errorf("unknown notification channel %q", raw)
		}
	}
	return cfg, nil
}

// CollabConfig holds the endpoints of the services the returns workflow
// calls.
type CollabConfig struct {
	Orders   collab.Endpoint
	Shipping collab.Endpoint
	Notify   collab.Endpoint
	Timeout  time.Duration `default:"10s" usage:"Collaborator call timeout"`
}

// KafkaConfig enables event log fan-out when brokers are set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers for event fan-out; disabled when empty"`
	Topic   string   `default:"payment-events" usage:"Kafka topic of event log entries"`
}

// TimeoutsConfig bounds outbound provider calls.
type TimeoutsConfig struct {
	Gateway time.Duration `default:"15s" usage:"Provider call timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from flags, environment variables and YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return load(false)
}

// LoadConfigWithoutFlags is LoadConfig for commands that parse their own
// flags.
func LoadConfigWithoutFlags() (*Config, error) {
	return load(true)
}

func load(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PAYGATE",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/paygate/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PAYGATE_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Returns.WorkflowConfig(); err != nil {
		return nil, errors.Wrap(err, "returns")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL, REDIS_URL and PORT to the PAYGATE_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port   string `envconfig:"PORT" default:":8080"`
	AppEnv string `envconfig:"APP_ENV" default:"production"`

	// "mongo" or "memory"; memory keeps everything in-process for local demos.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"mongo"`
	MongoURI     string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDB      string `envconfig:"MONGO_DB" default:"nannynest"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"12h"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripePublicKey     string `envconfig:"STRIPE_PUBLIC_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency            string `envconfig:"CURRENCY" default:"aud"`

	ServiceFeeRate      string        `envconfig:"SERVICE_FEE_RATE" default:"0.15"`
	ReleaseHold         time.Duration `envconfig:"RELEASE_HOLD" default:"24h"`
	ReleaseSchedule     string        `envconfig:"RELEASE_SCHEDULE" default:"0 * * * *"`
	ExpirySweepSchedule string        `envconfig:"EXPIRY_SWEEP_SCHEDULE" default:"0 3 * * *"`
	ExpiryWarning       time.Duration `envconfig:"EXPIRY_WARNING" default:"720h"`

	SendGridAPIKey string `envconfig:"SENDGRID_API_KEY"`
	EmailFrom      string `envconfig:"EMAIL_FROM" default:"hello@nannynest.com.au"`
	EmailFromName  string `envconfig:"EMAIL_FROM_NAME" default:"NannyNest"`
	FrontendURL    string `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`

	// SMS falls back to the log when TWILIO_ACCOUNT_SID is unset.
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`

	VerificationCallbackSecret string `envconfig:"VERIFICATION_CALLBACK_SECRET"`
	QRSigningKey               string `envconfig:"QR_SIGNING_KEY"`

	PhotoDir     string `envconfig:"PHOTO_DIR" default:"static/uploads"`
	PhotoBaseURL string `envconfig:"PHOTO_BASE_URL" default:"/static/uploads"`
	PhotoBucket  string `envconfig:"PHOTO_BUCKET"`
	AWSRegion    string `envconfig:"AWS_REGION" default:"ap-southeast-2"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

var (
	ErrMissingStripePublicKey = errors.New("STRIPE_PUBLIC_KEY is required")
	ErrMissingStripeSecretKey = errors.New("STRIPE_SECRET_KEY is required")
)

// Load reads .env if present, then the environment.
func Load() (Config, bool, error) {
	dotenv := godotenv.Load() == nil
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, dotenv, err
	}
	if c.Port != "" && c.Port[0] != ':' {
		c.Port = ":" + c.Port
	}
	return c, dotenv, c.Validate()
}

// Validate checks what envconfig cannot express. Payment keys are fatal:
// the service has no useful mode without them.
func (c Config) Validate() error {
	if c.StripePublicKey == "" {
		return ErrMissingStripePublicKey
	}
	if c.StripeSecretKey == "" {
		return ErrMissingStripeSecretKey
	}
	if _, err := c.FeeRate(); err != nil {
		return err
	}
	if c.ReleaseHold < 0 {
		return fmt.Errorf("RELEASE_HOLD must not be negative")
	}
	switch c.StoreBackend {
	case "mongo", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND %q: want mongo or memory", c.StoreBackend)
	}
	return nil
}

func (c Config) FeeRate() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.ServiceFeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SERVICE_FEE_RATE: %w", err)
	}
	return d, nil
}

func (c Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

package kernel

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var (
	once       sync.Once
	appRuntime *AppRuntime
)

// AppRuntime holds the process-wide configuration, read once at startup.
// Handlers receive it through the request context instead of reaching for
// globals.
type AppRuntime struct {
	Host string

	ServiceName           string
	ServiceVersion        string
	DeploymentEnvironment string

	DatabaseDSN    string
	DatabaseClient *gorm.DB

	JaegerEndpoint string
	// reserved for exporter TLS; the OTLP trace exporter currently always
	// runs insecure regardless
	Insecure bool

	// Daraja (Safaricom M-Pesa) gateway
	DarajaUrl      string
	Shortcode      string
	TillNumber     string
	Passkey        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackUrl    string

	// Apps Script sheet holding the access grants
	LedgerUrl string

	PortalOrigin string

	// How long an STK push may sit unconfirmed before it is marked timed out.
	PendingTTL time.Duration

	GatewayClient *http.Client

	Diagnostic *AppDiagnostic

	Context context.Context
}

var requiredKeys = []string{
	"HOST",
	"SERVICE_NAME",
	"SERVICE_VERSION",
	"DEPLOY_ENV",
	"JAEGER_ENDPOINT",
	"DATABASE_DSN",
	"DARAJA_URL",
	"MPESA_SHORTCODE",
	"MPESA_TILL_NUMBER",
	"MPESA_PASSKEY",
	"MPESA_CONSUMER_KEY",
	"MPESA_CONSUMER_SECRET",
	"MPESA_CALLBACK_URL",
	"LEDGER_URL",
	"PORTAL_ORIGIN",
}

// missingKeys returns every required key env leaves unset, so startup can
// name the whole lot in one pass instead of dying one key at a time.
func missingKeys(env map[string]string) []string {
	var missing []string
	for _, key := range requiredKeys {
		if env[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func LoadConfig() *AppRuntime {
	once.Do(func() {
		appEnv := os.Getenv("API_ENV")
		if appEnv == "" {
			appEnv = "development"
		}

		var env map[string]string
		env, err := godotenv.Read(".env." + appEnv)
		if err != nil {
			log.Fatal(err)
		}

		if missing := missingKeys(env); len(missing) > 0 {
			log.Fatalf("missing required config keys: %v", missing)
		}

		pendingTTL := 3 * time.Minute
		if env["PENDING_TTL"] != "" {
			pendingTTL, err = time.ParseDuration(env["PENDING_TTL"])
			if err != nil {
				log.Fatalf("invalid PENDING_TTL: %v", err)
			}
		}

		appRuntime = &AppRuntime{
			Host:        env["HOST"],
			DatabaseDSN: env["DATABASE_DSN"],

			ServiceName:           env["SERVICE_NAME"],
			ServiceVersion:        env["SERVICE_VERSION"],
			DeploymentEnvironment: env["DEPLOY_ENV"],

			JaegerEndpoint: env["JAEGER_ENDPOINT"],
			Insecure:       env["INSECURE"] == "true",

			DarajaUrl:      env["DARAJA_URL"],
			Shortcode:      env["MPESA_SHORTCODE"],
			TillNumber:     env["MPESA_TILL_NUMBER"],
			Passkey:        env["MPESA_PASSKEY"],
			ConsumerKey:    env["MPESA_CONSUMER_KEY"],
			ConsumerSecret: env["MPESA_CONSUMER_SECRET"],
			CallbackUrl:    env["MPESA_CALLBACK_URL"],

			LedgerUrl: env["LEDGER_URL"],

			PortalOrigin: env["PORTAL_ORIGIN"],

			PendingTTL: pendingTTL,

			// push-payment gateway SLA; a hung call fails the request
			// instead of pinning the connection
			GatewayClient: &http.Client{Timeout: 15 * time.Second},

			Diagnostic: &AppDiagnostic{
				Tracer: otel.Tracer(env["SERVICE_NAME"] + "-tracer"),
				Meter:  otel.Meter(env["SERVICE_NAME"] + "-meter"),
			},
		}
	})
	return appRuntime
}

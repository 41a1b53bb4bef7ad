package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"

	GatewayFCM = "fcm"
	GatewayLog = "log"
)

type Config struct {
	ServerPort  string
	ServiceName string
	APIKey      string

	StoreDriver string
	DatabaseURL string

	GatewayDriver string

	FirebaseProjectID          string
	FirebaseServiceAccountJSON string
	FirebaseServiceAccountPath string

	DeliveryConcurrency int
	LookupConcurrency   int

	LogLevel  string
	LogFormat string
}

// Error reports a missing or invalid setting. The process must not serve
// traffic when Load returns one.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:                 getEnv("PORT", "10000"),
		ServiceName:                getEnv("SERVICE_NAME", "issam-law-tasks-push-server"),
		APIKey:                     getEnv("API_KEY", ""),
		StoreDriver:                strings.ToLower(getEnv("STORE_DRIVER", StoreFirestore)),
		DatabaseURL:                getEnv("DATABASE_URL", "./pushrelay.db"),
		GatewayDriver:              strings.ToLower(getEnv("GATEWAY_DRIVER", GatewayFCM)),
		FirebaseProjectID:          getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		DeliveryConcurrency:        getIntEnv("DELIVERY_CONCURRENCY", 1),
		LookupConcurrency:          getIntEnv("LOOKUP_CONCURRENCY", 4),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &Error{Key: "API_KEY", Reason: "required"}
	}

	switch c.StoreDriver {
	case StoreFirestore, StoreSQLite, StorePostgres:
	default:
		return &Error{Key: "STORE_DRIVER", Reason: fmt.Sprintf("unsupported driver %q", c.StoreDriver)}
	}

	switch c.GatewayDriver {
	case GatewayFCM, GatewayLog:
	default:
		return &Error{Key: "GATEWAY_DRIVER", Reason: fmt.Sprintf("unsupported driver %q", c.GatewayDriver)}
	}

	if c.NeedsFirebase() {
		if c.FirebaseProjectID == "" {
			return &Error{Key: "FIREBASE_PROJECT_ID", Reason: "required"}
		}
		if c.FirebaseServiceAccountJSON == "" && c.FirebaseServiceAccountPath == "" {
			return &Error{Key: "FIREBASE_SERVICE_ACCOUNT_JSON", Reason: "required (or FIREBASE_SERVICE_ACCOUNT_PATH)"}
		}
	}

	if c.StoreDriver != StoreFirestore && c.DatabaseURL == "" {
		return &Error{Key: "DATABASE_URL", Reason: "required for the " + c.StoreDriver + " store"}
	}

	if c.DeliveryConcurrency < 1 {
		c.DeliveryConcurrency = 1
	}
	if c.LookupConcurrency < 1 {
		c.LookupConcurrency = 1
	}
	return nil
}

// NeedsFirebase reports whether any configured backend talks to Firebase.
func (c *Config) NeedsFirebase() bool {
	return c.StoreDriver == StoreFirestore || c.GatewayDriver == GatewayFCM
}

// ServiceAccount returns the raw service-account JSON, reading it from
// FIREBASE_SERVICE_ACCOUNT_PATH when it is not inlined.
func (c *Config) ServiceAccount() ([]byte, error) {
	if c.FirebaseServiceAccountJSON != "" {
		return []byte(c.FirebaseServiceAccountJSON), nil
	}
	b, err := os.ReadFile(c.FirebaseServiceAccountPath)
	if err != nil {
		return nil, &Error{Key: "FIREBASE_SERVICE_ACCOUNT_PATH", Reason: err.Error()}
	}
	return b, nil
}

func getEnv(key, defaultVal string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

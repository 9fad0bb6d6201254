package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const masked = "[MASKED]"

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Every missing required variable is reported, not just the first.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// lookup returns the first non-empty value among the field's env names.
func lookup(field reflect.StructField) (string, bool) {
	for _, name := range []string{field.Tag.Get("env"), field.Tag.Get("envAlt")} {
		if name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()
	var errs []error

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookup(field)
		if !ok {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", envName))
				continue
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			shown := value
			if field.Tag.Get("secret") == "true" {
				shown = masked
			}
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", envName, shown, err))
		}
	}

	return errors.Join(errs...)
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT and SERVER_WRITE_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be positive")
	}

	// Action
	if !strings.HasPrefix(c.Action.PublicURL, "http://") && !strings.HasPrefix(c.Action.PublicURL, "https://") {
		errs = append(errs, fmt.Sprintf("ACTION_PUBLIC_URL (%q) must be an http(s) URL", c.Action.PublicURL))
	}
	if c.Action.Name == "" {
		errs = append(errs, "ACTION_NAME must not be empty")
	}
	if c.Action.IconDataURI != "" && !strings.HasPrefix(c.Action.IconDataURI, "data:") {
		errs = append(errs, "ACTION_ICON_DATA_URI must be a data: URI")
	}

	// Transfer
	if c.Transfer.ConnectTimeout <= 0 {
		errs = append(errs, "SFTP_CONNECT_TIMEOUT must be positive")
	}
	if c.Transfer.KnownHostsFile != "" {
		if _, err := os.Stat(c.Transfer.KnownHostsFile); err != nil {
			errs = append(errs, fmt.Sprintf("SFTP_KNOWN_HOSTS (%q) is not readable: %v", c.Transfer.KnownHostsFile, err))
		}
	}
	if c.Transfer.StrictKeys && c.Transfer.PrivateKey == "" {
		errs = append(errs, "SFTP_STRICT_KEYS is true but SFTP_PEM is empty")
	}

	// Work
	if c.Work.MaxPayloadBytes <= 0 {
		errs = append(errs, "WORK_MAX_PAYLOAD_BYTES must be positive")
	}
	if c.Work.MaxExpandedBytes == 0 || c.Work.MaxExpandedBytes < -1 {
		errs = append(errs, "WORK_MAX_EXPANDED_BYTES must be positive or -1")
	}
	if c.Work.Dir != "" {
		if info, err := os.Stat(c.Work.Dir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Sprintf("WORK_DIR (%q) must be an existing directory", c.Work.Dir))
		}
	}

	// Delivery
	if c.Delivery.MaxConcurrent <= 0 {
		errs = append(errs, "DELIVERY_MAX_CONCURRENT must be positive")
	}
	if c.Delivery.MaxWaitTime <= 0 {
		errs = append(errs, "DELIVERY_MAX_WAIT_TIME must be positive")
	}
	if c.Delivery.Timeout <= 0 {
		errs = append(errs, "DELIVERY_TIMEOUT must be positive")
	}

	// Rate limits
	if c.Rate.Enabled && (c.Rate.RequestsPerMinute <= 0 || c.Rate.ExecuteLimit <= 0) {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE and RATE_LIMIT_EXECUTE must be positive when rate limiting is enabled")
	}

	// Database is optional; pool sizes only matter when it is configured.
	if c.Database.Enabled() {
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json, console", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Fields tagged secret are masked when set.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	writeStruct(&b, reflect.ValueOf(*c))
	b.WriteString("}")
	return b.String()
}

func writeStruct(b *strings.Builder, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		field := t.Field(i)
		fv := v.Field(i)
		b.WriteString(field.Name)
		b.WriteString(": ")

		switch {
		case fv.Kind() == reflect.Struct:
			b.WriteString("{")
			writeStruct(b, fv)
			b.WriteString("}")
		case field.Tag.Get("secret") == "true":
			if fv.String() == "" {
				b.WriteString(`""`)
			} else {
				b.WriteString(masked)
			}
		case fv.Kind() == reflect.String:
			fmt.Fprintf(b, "%q", fv.String())
		default:
			fmt.Fprintf(b, "%v", fv.Interface())
		}
	}
}

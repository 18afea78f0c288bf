package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/editor"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/validation"
)

// ValidationError describes one problem with a configuration value.
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds errors, which make the configuration unusable, and
// warnings, which are printed but tolerated.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted list of all issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder
	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&builder, "  - %s: %s\n", issue.Field, issue.Message)
			for _, s := range issue.Suggestions {
				fmt.Fprintf(&builder, "    hint: %s\n", s)
			}
		}
	}
	write("Errors", vr.Errors)
	write("Warnings", vr.Warnings)
	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// ValidateConfigWithDetails checks every section and collects all issues.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&config.Server, result)
	validateAPI(&config.API, result)
	validateAuth(&config.Auth, result)
	validateEditor(&config.Editor, result)
	validatePreview(&config.Preview, result)
	validateLog(&config.Log, result)

	return result
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	// Port 0 lets the system pick one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Common development ports: 3000, 8080, 8000")
	} else if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port, "port below 1024 requires elevated privileges")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.fail("server.host", config.Host, err.Error(), "Use localhost, an IP address or a hostname")
		}
	}

	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			result.warn("server.allowed_origins", origin, "any origin may open editor sessions")
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			result.fail("server.allowed_origins", origin, "origin must look like scheme://host[:port]")
		}
	}

	switch config.Environment {
	case "", "development", "production", "test":
	default:
		result.fail("server.environment", config.Environment,
			"unknown environment", "Use development, production or test")
	}
}

func validateAPI(config *APIConfig, result *ValidationResult) {
	if _, err := validation.ValidateBaseURL(config.BaseURL); err != nil {
		result.fail("api.base_url", config.BaseURL, err.Error(),
			"Run `playpen api` and point api.base_url at its listen address")
	}
	if config.Timeout <= 0 {
		result.fail("api.timeout", config.Timeout, "timeout must be positive")
	}
	if config.LoadRetries < 0 {
		result.fail("api.load_retries", config.LoadRetries, "load retries cannot be negative")
	}
}

func validateAuth(config *AuthConfig, result *ValidationResult) {
	if config.Secret != "" {
		if err := auth.ValidateSecret([]byte(config.Secret)); err != nil {
			result.fail("auth.secret", "<redacted>", err.Error(),
				fmt.Sprintf("Use at least %d random bytes", auth.MinSecretLen))
		}
	}
	if config.TokenTTL <= 0 {
		result.fail("auth.token_ttl", config.TokenTTL, "token lifetime must be positive")
	}
}

func validateEditor(config *EditorConfig, result *ValidationResult) {
	if _, err := editor.ParseSavePolicy(config.SavePolicy); err != nil {
		result.fail("editor.save_policy", config.SavePolicy, err.Error())
	}
}

func validatePreview(config *PreviewConfig, result *ValidationResult) {
	if config.Debounce < 0 {
		result.fail("preview.debounce", config.Debounce, "debounce cannot be negative")
	}
	if config.MaxDelay < 0 {
		result.fail("preview.max_delay", config.MaxDelay, "max delay cannot be negative")
	} else if config.MaxDelay > 0 && config.MaxDelay < config.Debounce {
		result.warn("preview.max_delay", config.MaxDelay,
			"max delay is shorter than the debounce, renders will fire at the max delay")
	}
	if config.ConsoleProbe && config.ProbeTimeout <= 0 {
		result.fail("preview.probe_timeout", config.ProbeTimeout, "probe timeout must be positive")
	}
}

func validateLog(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.fail("log.level", config.Level, err.Error(), "Use debug, info, warn or error")
	}
	switch config.Format {
	case "text", "json":
	default:
		result.fail("log.format", config.Format, "unknown log format", "Use text or json")
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

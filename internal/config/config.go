package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	Version = "0.1.0"

	APIBaseDefault           = "https://api.x.ai/v1"
	ChatModelDefault         = "grok-3-mini-beta"
	ImageGenModelDefault     = "grok-2-image"
	VisionModelDefault       = "grok-2-vision-latest"
	AuthHeaderDefault        = "Authorization"
	RateLimitDefault         = 100
	RateLimitPeriodDefault   = 3600
	MaxToolsDefault          = 128
	MaxNameLengthDefault     = 64
	MaxDescLengthDefault     = 1024
	MaxParameterDepthDefault = 5
)

var corsOriginsDefault = []string{
	"http://localhost",
	"http://localhost:3000",
	"http://localhost:8000",
	"http://127.0.0.1:8000",
}

// ToolLimits bounds client-declared function tools.
type ToolLimits struct {
	MaxTools          int
	MaxNameLength     int
	MaxDescLength     int
	MaxParameterDepth int
}

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host    string
	Port    int
	Verbose bool
	Debug   bool

	APIKey  string
	APIBase string

	ChatModel     string
	ImageGenModel string
	VisionModel   string

	RateLimit       int
	RateLimitPeriod time.Duration

	ToolCallingEnabled bool
	NativeToolsEnabled bool
	Tools              ToolLimits

	AuthEnabled     bool
	AuthToken       string
	AuthHeader      string
	AuthExcludeDocs bool

	CORSOrigins []string
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:    "127.0.0.1",
		Port:    8000,
		Debug:   envBool("XAI_GATEWAY_DEBUG", false),
		APIKey:  strings.TrimSpace(os.Getenv("XAI_API_KEY")),
		APIBase: strings.TrimRight(envOrDefault("XAI_API_BASE", APIBaseDefault), "/"),

		ChatModel:     envOrDefault("DEFAULT_CHAT_MODEL", ChatModelDefault),
		ImageGenModel: envOrDefault("DEFAULT_IMAGE_GEN_MODEL", ImageGenModelDefault),
		VisionModel:   envOrDefault("DEFAULT_VISION_MODEL", VisionModelDefault),

		RateLimit:       envInt("API_RATE_LIMIT", RateLimitDefault),
		RateLimitPeriod: time.Duration(envInt("API_RATE_LIMIT_PERIOD", RateLimitPeriodDefault)) * time.Second,

		ToolCallingEnabled: envBool("XAI_TOOL_CALLING_ENABLED", true),
		NativeToolsEnabled: envBool("XAI_NATIVE_TOOLS_ENABLED", false),
		Tools: ToolLimits{
			MaxTools:          envInt("MAX_TOOLS_PER_REQUEST", MaxToolsDefault),
			MaxNameLength:     envInt("MAX_FUNCTION_NAME_LENGTH", MaxNameLengthDefault),
			MaxDescLength:     envInt("MAX_FUNCTION_DESCRIPTION_LENGTH", MaxDescLengthDefault),
			MaxParameterDepth: envInt("MAX_PARAMETER_DEPTH", MaxParameterDepthDefault),
		},

		AuthEnabled:     envBool("XAI_API_AUTH", false),
		AuthToken:       strings.TrimSpace(os.Getenv("XAI_API_AUTH_TOKEN")),
		AuthHeader:      envOrDefault("XAI_API_AUTH_HEADER", AuthHeaderDefault),
		AuthExcludeDocs: envBool("XAI_API_AUTH_EXCLUDE_DOCS", true),

		CORSOrigins: envList("CORS_ORIGINS", corsOriginsDefault),
	}
}

// LoadFile overlays values from a YAML file onto cfg. Keys absent from the
// file keep their current value.
func (c *ServerConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	overlay.apply(c)
	return nil
}

// Validate reports deployment mistakes that would make the server unusable.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("XAI_API_KEY is not set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must not be negative")
	}
	return nil
}

// MaskedAPIKey returns the upstream key with everything but the last four
// characters hidden.
func (c *ServerConfig) MaskedAPIKey() string {
	return mask(c.APIKey)
}

// MaskedYAML renders the effective configuration in the same schema LoadFile
// accepts, with secrets masked.
func (c *ServerConfig) MaskedYAML() ([]byte, error) {
	apiKey := mask(c.APIKey)
	authToken := mask(c.AuthToken)
	period := int(c.RateLimitPeriod / time.Second)
	out := fileConfig{
		Host:               &c.Host,
		Port:               &c.Port,
		Verbose:            &c.Verbose,
		Debug:              &c.Debug,
		APIKey:             &apiKey,
		APIBase:            &c.APIBase,
		ChatModel:          &c.ChatModel,
		ImageGenModel:      &c.ImageGenModel,
		VisionModel:        &c.VisionModel,
		RateLimit:          &c.RateLimit,
		RateLimitPeriod:    &period,
		ToolCallingEnabled: &c.ToolCallingEnabled,
		NativeToolsEnabled: &c.NativeToolsEnabled,
		MaxTools:           &c.Tools.MaxTools,
		MaxNameLength:      &c.Tools.MaxNameLength,
		MaxDescLength:      &c.Tools.MaxDescLength,
		MaxParameterDepth:  &c.Tools.MaxParameterDepth,
		AuthEnabled:        &c.AuthEnabled,
		AuthToken:          &authToken,
		AuthHeader:         &c.AuthHeader,
		AuthExcludeDocs:    &c.AuthExcludeDocs,
		CORSOrigins:        c.CORSOrigins,
	}
	return yaml.Marshal(out)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

// fileConfig mirrors ServerConfig with pointer fields so that zero values in
// the YAML document can be told apart from missing keys.
type fileConfig struct {
	Host               *string  `yaml:"host"`
	Port               *int     `yaml:"port"`
	Verbose            *bool    `yaml:"verbose"`
	Debug              *bool    `yaml:"debug"`
	APIKey             *string  `yaml:"api_key"`
	APIBase            *string  `yaml:"api_base"`
	ChatModel          *string  `yaml:"chat_model"`
	ImageGenModel      *string  `yaml:"image_gen_model"`
	VisionModel        *string  `yaml:"vision_model"`
	RateLimit          *int     `yaml:"rate_limit"`
	RateLimitPeriod    *int     `yaml:"rate_limit_period"`
	ToolCallingEnabled *bool    `yaml:"tool_calling_enabled"`
	NativeToolsEnabled *bool    `yaml:"native_tools_enabled"`
	MaxTools           *int     `yaml:"max_tools_per_request"`
	MaxNameLength      *int     `yaml:"max_function_name_length"`
	MaxDescLength      *int     `yaml:"max_function_description_length"`
	MaxParameterDepth  *int     `yaml:"max_parameter_depth"`
	AuthEnabled        *bool    `yaml:"auth_enabled"`
	AuthToken          *string  `yaml:"auth_token"`
	AuthHeader         *string  `yaml:"auth_header"`
	AuthExcludeDocs    *bool    `yaml:"auth_exclude_docs"`
	CORSOrigins        []string `yaml:"cors_origins"`
}

func (f *fileConfig) apply(c *ServerConfig) {
	setString(&c.Host, f.Host)
	setInt(&c.Port, f.Port)
	setBool(&c.Verbose, f.Verbose)
	setBool(&c.Debug, f.Debug)
	setString(&c.APIKey, f.APIKey)
	if f.APIBase != nil {
		c.APIBase = strings.TrimRight(strings.TrimSpace(*f.APIBase), "/")
	}
	setString(&c.ChatModel, f.ChatModel)
	setString(&c.ImageGenModel, f.ImageGenModel)
	setString(&c.VisionModel, f.VisionModel)
	setInt(&c.RateLimit, f.RateLimit)
	if f.RateLimitPeriod != nil {
		c.RateLimitPeriod = time.Duration(*f.RateLimitPeriod) * time.Second
	}
	setBool(&c.ToolCallingEnabled, f.ToolCallingEnabled)
	setBool(&c.NativeToolsEnabled, f.NativeToolsEnabled)
	setInt(&c.Tools.MaxTools, f.MaxTools)
	setInt(&c.Tools.MaxNameLength, f.MaxNameLength)
	setInt(&c.Tools.MaxDescLength, f.MaxDescLength)
	setInt(&c.Tools.MaxParameterDepth, f.MaxParameterDepth)
	setBool(&c.AuthEnabled, f.AuthEnabled)
	setString(&c.AuthToken, f.AuthToken)
	setString(&c.AuthHeader, f.AuthHeader)
	setBool(&c.AuthExcludeDocs, f.AuthExcludeDocs)
	if len(f.CORSOrigins) > 0 {
		c.CORSOrigins = f.CORSOrigins
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envList(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

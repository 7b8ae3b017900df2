package main

// config.go

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tectiv3/docchat/assistant"
	"github.com/tectiv3/docchat/session"
)

// config struct for loading a configuration file
type config struct {
	Port        string `json:"port"`
	FrontendURL string `json:"frontend_url"`
	JWTSecret   string `json:"jwt_secret"`
	DBDSN       string `json:"db_dsn"`
	UploadDir   string `json:"upload_dir"`

	// openai api
	OpenAIAPIKey         string `json:"openai_api_key"`
	OpenAIOrganizationID string `json:"openai_org_id"`
	Model                string `json:"openai_model"`
	VisionModel          string `json:"vision_model"`

	// assistant
	AssistantFile  string `json:"assistant_file"`
	AssistantModel string `json:"assistant_model"`
	RunTimeout     string `json:"run_timeout"`

	HistoryLimit int  `json:"history_limit"`
	Verbose      bool `json:"verbose,omitempty"`

	runTimeout time.Duration
}

// load config at given path, a missing file leaves the defaults in place.
// Environment variables override file values.
func loadConfig(fpath string) (conf config, err error) {
	conf = config{
		Port:          "5000",
		DBDSN:         "docchat.db",
		UploadDir:     "uploads",
		Model:         "gpt-4o",
		VisionModel:   "gpt-4o",
		AssistantFile: "assistant.json",
		RunTimeout:    assistant.DefaultRunTimeout.String(),
		HistoryLimit:  session.DefaultCapacity,
	}

	if fpath != "" {
		var bytes []byte
		if bytes, err = os.ReadFile(fpath); err == nil {
			if err = json.Unmarshal(bytes, &conf); err != nil {
				return config{}, fmt.Errorf("failed to parse %s: %w", fpath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return config{}, err
		}
	}

	conf.applyEnv()
	if err := conf.Validate(); err != nil {
		return config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return conf, nil
}

func (c *config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.DBDSN = getEnv("DB_DSN", c.DBDSN)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIOrganizationID = getEnv("OPENAI_ORG_ID", c.OpenAIOrganizationID)
	c.Model = getEnv("OPENAI_MODEL", c.Model)
	c.VisionModel = getEnv("VISION_MODEL", c.VisionModel)
	c.AssistantFile = getEnv("ASSISTANT_FILE", c.AssistantFile)
	c.AssistantModel = getEnv("ASSISTANT_MODEL", c.AssistantModel)
	c.RunTimeout = getEnv("RUN_TIMEOUT", c.RunTimeout)
	c.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.HistoryLimit)
	c.Verbose = getEnvBool("VERBOSE", c.Verbose)
}

// Validate checks that all required configuration fields are set
func (c *config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY cannot be empty")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET cannot be empty")
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN cannot be empty")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("HISTORY_LIMIT must be > 0")
	}

	d, err := time.ParseDuration(c.RunTimeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be a positive duration, got %q", c.RunTimeout)
	}
	c.runTimeout = d

	return nil
}

// allowedOrigins returns the CORS origins, any origin when no frontend is configured
func (c *config) allowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimSuffix(o, "/"))
		}
	}

	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all service configuration.
type Config struct {
	Server ServerConfig
	Ollama OllamaConfig
	Chat   ChatConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ollama, err := loadOllamaConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Ollama: ollama, Chat: chat}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// allow ":8080" or "127.0.0.1:8080" verbatim
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// OllamaConfig describes the model backend.
type OllamaConfig struct {
	Host       string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

func loadOllamaConfig() (OllamaConfig, error) {
	timeoutSeconds := 60
	if override, err := parseOptionalIntEnv("OLLAMA_TIMEOUT"); err != nil {
		return OllamaConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return OllamaConfig{}, fmt.Errorf("OLLAMA_TIMEOUT must be at least 1 second")
		}
		timeoutSeconds = *override
	}

	maxRetries := 3
	if override, err := parseOptionalIntEnv("OLLAMA_MAX_RETRIES"); err != nil {
		return OllamaConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return OllamaConfig{}, fmt.Errorf("OLLAMA_MAX_RETRIES must be at least 1")
		}
		maxRetries = *override
	}

	return OllamaConfig{
		Host:       getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		Model:      getEnvOrDefault("OLLAMA_MODEL", "ALIENTELLIGENCE/mindwell:latest"),
		Timeout:    time.Duration(timeoutSeconds) * time.Second,
		MaxRetries: maxRetries,
	}, nil
}

// ChatConfig describes session and storage behavior.
type ChatConfig struct {
	DBPath       string
	ContextTurns int
	MaxTopics    int
}

func loadChatConfig() (ChatConfig, error) {
	contextTurns := 5
	if override, err := parseOptionalIntEnv("CHAT_CONTEXT_TURNS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ChatConfig{}, fmt.Errorf("CHAT_CONTEXT_TURNS must be at least 1")
		}
		contextTurns = *override
	}

	maxTopics := 5
	if override, err := parseOptionalIntEnv("CHAT_MAX_TOPICS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ChatConfig{}, fmt.Errorf("CHAT_MAX_TOPICS must be at least 1")
		}
		maxTopics = *override
	}

	return ChatConfig{
		DBPath:       getEnvOrDefault("CHAT_DB_PATH", "chat_history.db"),
		ContextTurns: contextTurns,
		MaxTopics:    maxTopics,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

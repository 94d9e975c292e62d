package domain

import (
	"strings"
	"time"
)

// Provider types understood by the dispatcher.
const (
	ProviderTypeRunPod    = "runpod"
	ProviderTypeReplicate = "replicate"
	ProviderTypeLocal     = "local"
)

// HealthStatus is the last observed health of a provider config.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// PayloadKeyMap names the request fields used by generic remote endpoints.
type PayloadKeyMap struct {
	ImageKey  string `json:"imageKey,omitempty" yaml:"imageKey,omitempty"`
	MaskKey   string `json:"maskKey,omitempty" yaml:"maskKey,omitempty"`
	PromptKey string `json:"promptKey,omitempty" yaml:"promptKey,omitempty"`
}

// WithDefaults fills blank keys with image/mask/prompt.
func (k PayloadKeyMap) WithDefaults() PayloadKeyMap {
	if strings.TrimSpace(k.ImageKey) == "" {
		k.ImageKey = "image"
	}
	if strings.TrimSpace(k.MaskKey) == "" {
		k.MaskKey = "mask"
	}
	if strings.TrimSpace(k.PromptKey) == "" {
		k.PromptKey = "prompt"
	}
	return k
}

// ProviderConfig binds one tool to one backend.
type ProviderConfig struct {
	ID              string
	ToolID          ToolID
	ProviderType    string
	Endpoint        string
	CredentialRef   string
	Model           string
	Priority        int
	IsDefault       bool
	IsActive        bool
	Timeout         time.Duration
	RetryCount      int
	PayloadKeys     PayloadKeyMap
	Params          map[string]any
	UseBase64       bool
	HealthStatus    HealthStatus
	LastHealthCheck *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TimeoutOr returns the configured timeout or fallback when unset.
func (c ProviderConfig) TimeoutOr(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return fallback
}

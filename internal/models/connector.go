package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ConnectorType defines the type of connector
type ConnectorType string

const (
	ConnectorTypeGitHub ConnectorType = "github"
)

// Connector represents an external service connection
type Connector struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      ConnectorType   `json:"type"`
	Config    json.RawMessage `json:"config"` // Stored as JSON in DB
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GitHubConnectorConfig defines configuration for GitHub connectors
type GitHubConnectorConfig struct {
	Token string `json:"token"`
}

func (c *GitHubConnectorConfig) Validate() error {
	if c.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

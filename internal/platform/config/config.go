// Package config loads all gateway settings from environment variables so
// main stays lean. Prefixes mirror the deployment's env contract: AZUREAD_,
// FOUNDRY_, SPA_, BOT_, CORS_, GATEWAY_.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures process-level configuration.
type Server struct {
	Addr                 string `env:"GATEWAY_ADDR" envDefault:":5180"`
	LogLevel             string `env:"GATEWAY_LOG_LEVEL" envDefault:"info"`
	EntitlementUsersJSON string `env:"ENTITLEMENT_USERS_JSON" envDefault:"[]"`
}

// AzureAD holds identity provider configuration for credential validation
// and the On-Behalf-Of flow.
type AzureAD struct {
	Instance     string `env:"INSTANCE" envDefault:"https://login.microsoftonline.com/"`
	TenantID     string `env:"TENANT_ID"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Audience     string `env:"AUDIENCE"`
	Scopes       string `env:"SCOPES" envDefault:"access_as_user"`
}

// Authority is the tenant authority URL without a trailing slash.
func (a AzureAD) Authority() string {
	return strings.TrimRight(a.Instance, "/") + "/" + a.TenantID
}

// Issuers returns the accepted token issuer allow-list. Different caller
// channels mint tokens against different (but equally valid) issuer
// conventions for the same tenant, so v1, v2, and the bare authority are
// all accepted.
func (a AzureAD) Issuers() []string {
	return []string{
		fmt.Sprintf("%s%s/v2.0", a.Instance, a.TenantID),
		fmt.Sprintf("https://sts.windows.net/%s/", a.TenantID),
		a.Authority(),
	}
}

// Audiences returns the accepted audience allow-list: the declared API
// audience, the raw client id, and the URI-prefixed client id.
func (a AzureAD) Audiences() []string {
	out := []string{}
	if a.Audience != "" {
		out = append(out, a.Audience)
	}
	if a.ClientID != "" {
		out = append(out, a.ClientID, "api://"+a.ClientID)
	}
	return out
}

// Foundry holds downstream agent API configuration (v2 Responses API).
type Foundry struct {
	ProjectEndpoint     string        `env:"PROJECT_ENDPOINT"`
	ModelDeploymentName string        `env:"MODEL_DEPLOYMENT_NAME" envDefault:"chat4o"`
	FabricConnectionID  string        `env:"FABRIC_CONNECTION_ID"`
	AgentName           string        `env:"AGENT_NAME"`
	Instructions        string        `env:"INSTRUCTIONS" envDefault:"You are a helpful data analysis assistant. For any questions about data, accounts, sales, or reports, use the Fabric tool. Always provide clear, concise answers based on the data returned."`
	APIVersion          string        `env:"API_VERSION" envDefault:"2025-05-15-preview"`
	ResponseTimeout     time.Duration `env:"RESPONSE_TIMEOUT" envDefault:"180s"`
}

// SPAAuth holds the public values served to the browser client via
// /api/config. None of these are secrets.
type SPAAuth struct {
	TenantID      string `env:"TENANT_ID"`
	SPAClientID   string `env:"SPA_CLIENT_ID"`
	APIClientID   string `env:"API_CLIENT_ID"`
	TestUsersJSON string `env:"TEST_USERS_JSON" envDefault:"[]"`
}

// Bot holds conversational channel configuration.
type Bot struct {
	AppID               string `env:"MICROSOFT_APP_ID"`
	AppPassword         string `env:"MICROSOFT_APP_PASSWORD"`
	AppTenantID         string `env:"MICROSOFT_APP_TENANT_ID"`
	AppType             string `env:"MICROSOFT_APP_TYPE" envDefault:"SingleTenant"`
	OAuthConnectionName string `env:"OAUTH_CONNECTION_NAME"`
}

// CORS holds cross-origin configuration for the SPA.
type CORS struct {
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173"`
}

// Origins parses the comma-separated origin list.
func (c CORS) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Config aggregates every settings group.
type Config struct {
	Server  Server
	AzureAD AzureAD `envPrefix:"AZUREAD_"`
	Foundry Foundry `envPrefix:"FOUNDRY_"`
	SPAAuth SPAAuth `envPrefix:"SPA_"`
	Bot     Bot     `envPrefix:"BOT_"`
	CORS    CORS    `envPrefix:"CORS_"`
}

// Load parses the full configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// Package config provides configuration types for the relay gateway.
//
// The gateway runs in one of two modes: local (a single YAML document
// naming targets, policies and a listener) or control-plane (a delta-xDS
// stream against a configured address). Everything else -- the admin
// server, logging, identity -- is ambient and configured the same way in
// both modes.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the gateway process.
type Config struct {
	// Server configures the gateway's own log level and node identity.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Local configures the single-document local ingestion mode.
	// Mutually exclusive with ControlPlane.
	Local LocalConfig `yaml:"local" mapstructure:"local"`

	// ControlPlane configures the delta-xDS control plane client.
	// Mutually exclusive with Local.
	ControlPlane ControlPlaneConfig `yaml:"control_plane" mapstructure:"control_plane"`

	// Telemetry configures metrics and tracing export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development defaults (verbose logging, insecure gRPC dial).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures process-wide ambient concerns.
type ServerConfig struct {
	// NodeID identifies this gateway instance to a control plane.
	// Defaults to "relaygate" if empty.
	NodeID string `yaml:"node_id" mapstructure:"node_id"`

	// LogLevel sets the minimum slog level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// LocalConfig configures local-mode config ingestion.
type LocalConfig struct {
	// Enabled activates local mode. Mutually exclusive with ControlPlane.Enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// File is the path to the local YAML document (targets/policies/listener).
	File string `yaml:"file" mapstructure:"file" validate:"required_if=Enabled true"`
}

// ControlPlaneConfig configures the delta-xDS client.
type ControlPlaneConfig struct {
	// Enabled activates control-plane mode. Mutually exclusive with Local.Enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Address is the control plane's gRPC endpoint (host:port).
	Address string `yaml:"address" mapstructure:"address" validate:"required_if=Enabled true"`
	// Insecure disables TLS on the gRPC dial. Defaults to false; DevMode overrides to true.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	// MetricsAddr is the address the Prometheus handler binds to (e.g. "127.0.0.1:9090").
	// Empty disables the metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	// TracingEndpoint is loaded from config and the environment but not read
	// by any component: the gateway sets up no tracer or trace exporter.
	TracingEndpoint string `yaml:"tracing_endpoint" mapstructure:"tracing_endpoint"`
}

// SetDefaults fills in zero-valued optional fields.
func (c *Config) SetDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.NodeID == "" {
		c.Server.NodeID = defaultNodeID()
	}
	if !c.Local.Enabled && !c.ControlPlane.Enabled {
		c.Local.Enabled = true
		if c.Local.File == "" {
			c.Local.File = "relaygate.yaml"
		}
	}
}

// SetDevDefaults applies permissive overrides used by `relaygate run --dev`.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	c.ControlPlane.Insecure = true
}

func defaultNodeID() string {
	if v := viper.GetString("server.node_id"); v != "" {
		return v
	}
	return "relaygate"
}

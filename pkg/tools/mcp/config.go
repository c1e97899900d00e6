package mcp

import (
	"errors"
	"fmt"
)

// Transport types.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportCommand        = "command"
)

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name is the logical name for this server, used in logs.
	Name string `yaml:"name" json:"name"`

	// Transport is "streamable-http" (default), "sse", or "command".
	Transport string `yaml:"transport" json:"transport"`

	// URL is the endpoint for the HTTP transports.
	URL string `yaml:"url" json:"url"`

	// Command is the executable and arguments for the command transport.
	Command []string `yaml:"command" json:"command,omitempty"`

	// Headers are added to every HTTP request, typically for API keys.
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// Validate checks the configuration for missing fields.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch c.Transport {
	case "", TransportStreamableHTTP, TransportSSE:
		if c.URL == "" {
			errs = append(errs, fmt.Errorf("url is required for transport %q", c.transport()))
		}
	case TransportCommand:
		if len(c.Command) == 0 {
			errs = append(errs, errors.New("command is required for transport \"command\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported transport %q", c.Transport))
	}
	return errors.Join(errs...)
}

func (c ServerConfig) transport() string {
	if c.Transport == "" {
		return TransportStreamableHTTP
	}
	return c.Transport
}

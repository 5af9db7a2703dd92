// Package server is the HTTP/WebSocket ingress boundary (spec.md §6):
// it loads a gateway configuration, composes the supergraph schema
// from configured subgraphs, and wires the query execution pipeline
// (internal/operation, internal/validator, internal/solver,
// internal/plan, internal/opcache, internal/executor) behind a
// GraphQL-over-HTTP handler and a graphql-transport-ws handler. The
// core's contract is the request/response shape this package produces
// and consumes; everything below it (transport framing, TLS, load
// balancing) is out of scope per spec.md §1.
//
// Grounded on gateway/gateway.go's GatewayOption (yaml-tagged config
// struct, Services list of name/host/schema files) and
// server/gateway.go's Run (signal-driven graceful shutdown), adapted
// to build an internal/schema.Arena instead of a federation/graph.SuperGraphV2
// and to drive internal/executor.Executor instead of federation/executor.ExecutorV2.
package server

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

// ServiceConfig names one subgraph: its identity, its transport
// endpoints, and the SDL files composition reads (spec.md §3 Subgraph
// entity, §4.1 "built once from a federated SDL blob").
type ServiceConfig struct {
	Name        string            `yaml:"name"`
	URL         string            `yaml:"url"`
	WSURL       string            `yaml:"ws_url"`
	Protocol    string            `yaml:"protocol" default:"http"`
	SchemaFiles []string          `yaml:"schema_files"`
	Headers     map[string]string `yaml:"forward_headers"`
}

// OpentelemetrySetting mirrors gateway/gateway.go's nested
// Opentelemetry config block.
type OpentelemetrySetting struct {
	TracingSetting struct {
		Enable   bool   `yaml:"enable" default:"false"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"tracing"`
}

// LimitsConfig maps directly onto internal/validator.Limits
// (spec.md §4.3, end-to-end scenario 2).
type LimitsConfig struct {
	MaxDepth      int `yaml:"max_depth"`
	MaxHeight     int `yaml:"max_height"`
	MaxAliases    int `yaml:"max_aliases"`
	MaxComplexity int `yaml:"max_complexity"`
	MaxRootFields int `yaml:"max_root_fields"`
}

// Config is the gateway's top-level configuration, loaded from YAML
// (the teacher's goccy/go-yaml idiom; see gateway/gateway.go's
// loadGatewaySetting).
type Config struct {
	Endpoint           string               `yaml:"endpoint" default:"/graphql"`
	SubscriptionPath   string               `yaml:"subscription_path" default:"/ws"`
	ServiceName        string               `yaml:"service_name"`
	Port               int                  `yaml:"port" default:"4000"`
	SubgraphTimeout    string               `yaml:"subgraph_timeout" default:"5s"`
	ShutdownTimeout    string               `yaml:"shutdown_timeout" default:"5s"`
	OperationCacheSize int                  `yaml:"operation_cache_size" default:"512"`
	DevAssertions      bool                 `yaml:"dev_assertions"`
	Services           []ServiceConfig      `yaml:"services"`
	Limits             LimitsConfig         `yaml:"limits"`
	Opentelemetry      OpentelemetrySetting `yaml:"opentelemetry"`
}

// LoadConfig reads and parses a gateway YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway config: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway config: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/graphql"
	}
	if cfg.SubscriptionPath == "" {
		cfg.SubscriptionPath = "/ws"
	}
	if cfg.OperationCacheSize <= 0 {
		cfg.OperationCacheSize = 512
	}
	return &cfg, nil
}

// subgraphTimeout parses SubgraphTimeout, defaulting to 5s on an
// empty or malformed value.
func (c *Config) subgraphTimeout() time.Duration {
	if c.SubgraphTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.SubgraphTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (c *Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// buildSources reads every configured service's SDL files and turns
// them into internal/schema.SubgraphSource values for schema.Build.
func (c *Config) buildSources() ([]schema.SubgraphSource, error) {
	sources := make([]schema.SubgraphSource, 0, len(c.Services))
	for _, svc := range c.Services {
		var sdl []byte
		for _, f := range svc.SchemaFiles {
			b, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", svc.Name, err)
			}
			sdl = append(sdl, b...)
			sdl = append(sdl, '\n')
		}

		proto := schema.ProtocolHTTP
		if svc.Protocol == "websocket" {
			proto = schema.ProtocolWebSocket
		}

		var headers []schema.HeaderRule
		for k, v := range svc.Headers {
			headers = append(headers, schema.HeaderRule{Name: k, Operation: schema.HeaderInsert, Value: v})
		}

		sources = append(sources, schema.SubgraphSource{
			Name:     svc.Name,
			URL:      svc.URL,
			WSURL:    svc.WSURL,
			Protocol: proto,
			Headers:  headers,
			SDL:      sdl,
		})
	}
	return sources, nil
}

// Package config loads the bridge's YAML configuration into the typed
// structs the core packages consume, and validates it before anything
// starts. Per the error taxonomy, a ConfigError here is always fatal at
// startup, never at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/internal/syncmanager"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// EndpointConfig is one configured OPC UA server the Connection Pool
// should maintain a Session against.
type EndpointConfig struct {
	URL            string `mapstructure:"url"`
	Name           string `mapstructure:"name"`
	SecurityPolicy string `mapstructure:"securityPolicy"`
	SecurityMode   string `mapstructure:"securityMode"`
	CertPath       string `mapstructure:"certPath"`
	KeyPath        string `mapstructure:"keyPath"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TimeoutMs      int    `mapstructure:"timeoutMs"`
}

// OpcUaConfig is the opcua: section.
type OpcUaConfig struct {
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
}

// RangeConfig mirrors mapping.Range but decodes cleanly from YAML, where
// an absent bound must stay nil rather than decode to 0.
type RangeConfig struct {
	Min *float64 `mapstructure:"min" yaml:"min"`
	Max *float64 `mapstructure:"max" yaml:"max"`
}

// MappingConfig is one mappings[] entry. It carries both mapstructure
// tags (decoded by viper out of the main config document) and yaml
// tags (decoded directly by loadMappingsFile when mappings live in
// their own file, per mappings_file).
type MappingConfig struct {
	OpcNodeID          string       `mapstructure:"opcua_node_id" yaml:"opcua_node_id"`
	Endpoint           string       `mapstructure:"endpoint" yaml:"endpoint"`
	SubmodelID         string       `mapstructure:"submodel_id" yaml:"submodel_id"`
	IDShortPath        string       `mapstructure:"idShortPath" yaml:"idShortPath"`
	ValueType          string       `mapstructure:"value_type" yaml:"value_type"`
	Direction          string       `mapstructure:"direction" yaml:"direction"`
	Range              *RangeConfig `mapstructure:"range" yaml:"range"`
	SamplingIntervalMs int          `mapstructure:"sampling_interval_ms" yaml:"sampling_interval_ms"`
	QueueSize          int          `mapstructure:"queue_size" yaml:"queue_size"`
	Enabled            *bool        `mapstructure:"enabled" yaml:"enabled"`
}

// AasEventsConfig is the aas.events: section governing MQTT ingress and
// the Loop-Suppression Cache.
type AasEventsConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	MqttURL          string `mapstructure:"mqtt_url"`
	MqttTopic        string `mapstructure:"mqtt_topic"`
	DedupTTLSeconds  int    `mapstructure:"dedup_ttl_seconds"`
	DedupMaxEntries  int    `mapstructure:"dedup_max_entries"`
}

// AasConfig is the aas: section.
type AasConfig struct {
	Type               string          `mapstructure:"type"`
	URL                string          `mapstructure:"url"`
	EncodeIdentifiers  bool            `mapstructure:"encode_identifiers"`
	AutoCreateSubmodel bool            `mapstructure:"auto_create_submodels"`
	AutoCreateElement  bool            `mapstructure:"auto_create_elements"`
	PollIntervalSecs   int             `mapstructure:"poll_interval_seconds"`
	Events             AasEventsConfig `mapstructure:"events"`
}

// ObservabilityConfig configures the ambient logging/audit surface; the
// core never reads metrics/tracing settings itself, but the process
// wiring in cmd/basyx-opcua-bridge does.
type ObservabilityConfig struct {
	LogLevel        string   `mapstructure:"log_level"`
	AuditEnabled    bool     `mapstructure:"audit_enabled"`
	AuditKafkaBrokers []string `mapstructure:"audit_kafka_brokers"`
	AuditKafkaTopic string   `mapstructure:"audit_kafka_topic"`
}

// SyncConfig is the sync: section governing the Sync Manager's own
// timing, distinct from any individual endpoint or the AAS poller.
type SyncConfig struct {
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// BridgeConfig is the root of the bridge's YAML configuration surface.
type BridgeConfig struct {
	OpcUA         OpcUaConfig         `mapstructure:"opcua"`
	Mappings      []MappingConfig     `mapstructure:"mappings"`
	MappingsFile  string              `mapstructure:"mappings_file"`
	Aas           AasConfig           `mapstructure:"aas"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Sync          SyncConfig          `mapstructure:"sync"`
}

const envPrefix = "BRIDGE"

// Load reads YAML from path (if non-empty) through viper, overlays
// BRIDGE_-prefixed environment variables (nested keys separated by
// double underscore via SetEnvKeyReplacer), decodes into a
// BridgeConfig, applies defaults, and validates it. Any failure is a
// *ConfigError.
func Load(path string) (*BridgeConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	applyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, newConfigError("", "reading %s: %v", path, err)
		}
	}

	var cfg BridgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, newConfigError("", "decoding configuration: %v", err)
	}

	if cfg.MappingsFile != "" {
		extra, err := loadMappingsFile(cfg.MappingsFile)
		if err != nil {
			return nil, err
		}
		cfg.Mappings = append(cfg.Mappings, extra...)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("aas.type", "memory")
	v.SetDefault("aas.encode_identifiers", false)
	v.SetDefault("aas.poll_interval_seconds", 5)
	v.SetDefault("aas.events.enabled", false)
	v.SetDefault("aas.events.mqtt_topic", "sm-repository/+/submodels/+/submodelElements/#")
	v.SetDefault("aas.events.dedup_ttl_seconds", 60)
	v.SetDefault("aas.events.dedup_max_entries", 2048)
	v.SetDefault("observability.log_level", "INFO")
	v.SetDefault("observability.audit_enabled", true)
	v.SetDefault("sync.shutdown_grace_seconds", 5)
}

// loadMappingsFile decodes a standalone mapping rules document: a
// deployment with hundreds of mapped elements typically keeps them out
// of the main bridge.yaml entirely, so mappings_file is decoded with
// yaml.v3 directly rather than folded into viper's tree.
func loadMappingsFile(path string) ([]MappingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError("mappings_file", "reading %s: %v", path, err)
	}
	var extra []MappingConfig
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, newConfigError("mappings_file", "decoding %s: %v", path, err)
	}
	return extra, nil
}

// validate checks URL scheme, cert/key pairing, and range ordering,
// plus the checks that only make sense once mappings are resolved
// against declared endpoints.
func (c *BridgeConfig) validate() error {
	if len(c.OpcUA.Endpoints) == 0 {
		return newConfigError("opcua.endpoints", "at least one endpoint is required")
	}
	names := make(map[string]bool, len(c.OpcUA.Endpoints))
	for i, ep := range c.OpcUA.Endpoints {
		field := fmt.Sprintf("opcua.endpoints[%d]", i)
		if !strings.HasPrefix(ep.URL, "opc.tcp://") {
			return newConfigError(field+".url", "must start with opc.tcp://, got %q", ep.URL)
		}
		if ep.Name == "" {
			return newConfigError(field+".name", "endpoint name is required")
		}
		if names[ep.Name] {
			return newConfigError(field+".name", "duplicate endpoint name %q", ep.Name)
		}
		names[ep.Name] = true
		if _, err := ParseSecurityPolicy(ep.SecurityPolicy); err != nil {
			return newConfigError(field+".securityPolicy", "%v", err)
		}
		mode, err := ParseSecurityMode(ep.SecurityMode)
		if err != nil {
			return newConfigError(field+".securityMode", "%v", err)
		}
		if (ep.CertPath == "") != (ep.KeyPath == "") {
			return newConfigError(field, "certPath and keyPath must be specified together")
		}
		policy, _ := ParseSecurityPolicy(ep.SecurityPolicy)
		if mode != opcuaproto.MessageSecurityModeNone && policy == opcuaproto.SecurityPolicyNone {
			return newConfigError(field+".securityMode", "%s requires a security policy other than None", ep.SecurityMode)
		}
		if mode != opcuaproto.MessageSecurityModeNone && ep.CertPath == "" {
			return newConfigError(field+".certPath", "%s requires a client certificate", ep.SecurityMode)
		}
	}

	var soleEndpoint string
	if len(c.OpcUA.Endpoints) == 1 {
		soleEndpoint = c.OpcUA.Endpoints[0].Name
	}

	for i, m := range c.Mappings {
		field := fmt.Sprintf("mappings[%d]", i)
		if m.OpcNodeID == "" {
			return newConfigError(field+".opcua_node_id", "is required")
		}
		if m.Endpoint == "" && soleEndpoint != "" {
			c.Mappings[i].Endpoint = soleEndpoint
			m.Endpoint = soleEndpoint
		}
		if m.Endpoint == "" {
			return newConfigError(field+".endpoint", "is required when more than one endpoint is configured")
		}
		if !names[m.Endpoint] {
			return newConfigError(field+".endpoint", "references undeclared endpoint %q", m.Endpoint)
		}
		if m.SubmodelID == "" || m.IDShortPath == "" {
			return newConfigError(field, "submodel_id and idShortPath are required")
		}
		if !codec.Supported(codec.ValueType(m.ValueType)) {
			return newConfigError(field+".value_type", "unsupported value type %q", m.ValueType)
		}
		if m.Range != nil && m.Range.Min != nil && m.Range.Max != nil && *m.Range.Min > *m.Range.Max {
			return newConfigError(field+".range", "min (%v) must be <= max (%v)", *m.Range.Min, *m.Range.Max)
		}
		switch mapping.Direction(m.Direction) {
		case "", mapping.DirectionOpcToAas, mapping.DirectionAasToOpc, mapping.DirectionBidirectional:
		default:
			return newConfigError(field+".direction", "unknown direction %q", m.Direction)
		}
	}

	switch c.Aas.Type {
	case "", "basyx", "aasx-server", "memory":
	default:
		return newConfigError("aas.type", "unknown provider type %q", c.Aas.Type)
	}
	if c.Aas.URL == "" {
		return newConfigError("aas.url", "is required")
	}
	if c.Aas.Events.Enabled && c.Aas.Events.MqttURL == "" {
		return newConfigError("aas.events.mqtt_url", "is required when events are enabled")
	}
	return nil
}

// ParseSecurityPolicy converts the configured string form of a security
// policy into opcuaproto.SecurityPolicy. Exported so cmd/basyx-opcua-bridge
// can build the same opcuaclient.Option set for its startup preflight
// check that ConnpoolEndpoints builds for the long-lived pool.
func ParseSecurityPolicy(s string) (opcuaproto.SecurityPolicy, error) {
	switch s {
	case "", "None":
		return opcuaproto.SecurityPolicyNone, nil
	case "Basic128Rsa15":
		return opcuaproto.SecurityPolicyBasic128Rsa15, nil
	case "Basic256":
		return opcuaproto.SecurityPolicyBasic256, nil
	case "Basic256Sha256":
		return opcuaproto.SecurityPolicyBasic256Sha256, nil
	case "Aes128_Sha256_RsaOaep":
		return opcuaproto.SecurityPolicyAes128Sha256RsaOaep, nil
	case "Aes256_Sha256_RsaPss":
		return opcuaproto.SecurityPolicyAes256Sha256RsaPss, nil
	default:
		return "", fmt.Errorf("unknown security policy %q", s)
	}
}

// ParseSecurityMode converts the configured string form of a security
// mode into opcuaproto.MessageSecurityMode.
func ParseSecurityMode(s string) (opcuaproto.MessageSecurityMode, error) {
	switch s {
	case "", "None":
		return opcuaproto.MessageSecurityModeNone, nil
	case "Sign":
		return opcuaproto.MessageSecurityModeSign, nil
	case "SignAndEncrypt":
		return opcuaproto.MessageSecurityModeSignAndEncrypt, nil
	default:
		return 0, fmt.Errorf("unknown security mode %q", s)
	}
}

// ConnpoolEndpoints translates the configured endpoints into
// connpool.EndpointConfig, reading certificate/key material from disk
// and stripping the opc.tcp:// scheme the raw TCP dialer underneath
// does not understand.
func (c *BridgeConfig) ConnpoolEndpoints() ([]connpool.EndpointConfig, error) {
	out := make([]connpool.EndpointConfig, 0, len(c.OpcUA.Endpoints))
	for _, ep := range c.OpcUA.Endpoints {
		policy, _ := ParseSecurityPolicy(ep.SecurityPolicy)
		mode, _ := ParseSecurityMode(ep.SecurityMode)

		var certPEM, keyPEM []byte
		if ep.CertPath != "" {
			var err error
			certPEM, err = os.ReadFile(ep.CertPath)
			if err != nil {
				return nil, newConfigError("opcua.endpoints", "reading certificate %s: %v", ep.CertPath, err)
			}
			keyPEM, err = os.ReadFile(ep.KeyPath)
			if err != nil {
				return nil, newConfigError("opcua.endpoints", "reading private key %s: %v", ep.KeyPath, err)
			}
		}

		timeout := time.Duration(ep.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		out = append(out, connpool.EndpointConfig{
			Name:           ep.Name,
			URL:            strings.TrimPrefix(ep.URL, "opc.tcp://"),
			SecurityPolicy: policy,
			SecurityMode:   mode,
			CertPEM:        certPEM,
			KeyPEM:         keyPEM,
			Username:       ep.Username,
			Password:       ep.Password,
			ConnectTimeout: timeout,
		})
	}
	return out, nil
}

// MappingRules translates the configured mappings into mapping.Rule,
// ready for mapping.NewRegistry.
func (c *BridgeConfig) MappingRules() []mapping.Rule {
	out := make([]mapping.Rule, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		var rng *mapping.Range
		if m.Range != nil {
			rng = &mapping.Range{Min: m.Range.Min, Max: m.Range.Max}
		}
		direction := mapping.Direction(m.Direction)
		if direction == "" {
			direction = mapping.DirectionBidirectional
		}
		enabled := true
		if m.Enabled != nil {
			enabled = *m.Enabled
		}
		endpoint := m.Endpoint
		out = append(out, mapping.Rule{
			EndpointName:       endpoint,
			OpcNodeID:          m.OpcNodeID,
			SubmodelID:         m.SubmodelID,
			IDShortPath:        m.IDShortPath,
			ValueType:          codec.ValueType(m.ValueType),
			Direction:          direction,
			Range:              rng,
			SamplingIntervalMs: m.SamplingIntervalMs,
			QueueSize:          m.QueueSize,
			Enabled:            enabled,
		})
	}
	return out
}

// AasClientConfig translates the aas: section into aasclient.Config.
// PollTargets is left for the caller to fill in once the Mapping
// Registry has resolved which elements need polling: config has no
// dependency on mapping and should not acquire one just to pre-compute
// this list.
func (c *BridgeConfig) AasClientConfig() aasclient.Config {
	return aasclient.Config{
		BaseURL:            c.Aas.URL,
		EncodeIdentifiers:  c.Aas.EncodeIdentifiers,
		AutoCreateSubmodel: c.Aas.AutoCreateSubmodel,
		AutoCreateElement:  c.Aas.AutoCreateElement,
		EventsEnabled:      c.Aas.Events.Enabled,
		MqttBrokerURL:      c.Aas.Events.MqttURL,
		MqttTopic:          c.Aas.Events.MqttTopic,
		PollInterval:       time.Duration(c.Aas.PollIntervalSecs) * time.Second,
	}
}

// PollTargetsFor derives the poller's target list from every mapping
// that allows AAS-to-OPC-UA flow (an OPC-UA-only element never needs to
// be polled for drift).
func PollTargetsFor(reg *mapping.Registry) []aasclient.PollTarget {
	var out []aasclient.PollTarget
	for _, m := range reg.All() {
		if !m.Direction.AllowsAasToOpc() {
			continue
		}
		out = append(out, aasclient.PollTarget{
			SubmodelID:  m.ElementRef.SubmodelID,
			IDShortPath: m.ElementRef.IDShortPath,
		})
	}
	return out
}

// SyncManagerConfig translates sync: (and the endpoint names, and the
// AAS poll interval used for the health-probe cadence) into
// syncmanager.Config.
func (c *BridgeConfig) SyncManagerConfig() syncmanager.Config {
	names := make([]string, 0, len(c.OpcUA.Endpoints))
	for _, ep := range c.OpcUA.Endpoints {
		names = append(names, ep.Name)
	}
	grace := time.Duration(c.Sync.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return syncmanager.Config{
		Endpoints:     names,
		PollInterval:  time.Duration(c.Aas.PollIntervalSecs) * time.Second,
		ShutdownGrace: grace,
	}
}

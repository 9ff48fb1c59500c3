package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

const validYAML = `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
      securityPolicy: None
      securityMode: None
mappings:
  - opcua_node_id: "ns=2;s=Temperature"
    endpoint: plc1
    submodel_id: sm-temperature
    idShortPath: Temperature
    value_type: xs:double
    direction: bidirectional
    range:
      min: -40
      max: 120
aas:
  type: basyx
  url: http://aas.local:8081
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.OpcUA.Endpoints, 1)
	require.Equal(t, "plc1", cfg.OpcUA.Endpoints[0].Name)
	require.Equal(t, 5, cfg.Aas.PollIntervalSecs, "poll interval default applies when unset")
}

func TestLoadMergesExternalMappingsFile(t *testing.T) {
	dir := t.TempDir()
	mappingsPath := filepath.Join(dir, "mappings.yaml")
	require.NoError(t, os.WriteFile(mappingsPath, []byte(`
- opcua_node_id: "ns=2;s=Pressure"
  submodel_id: sm-pressure
  idShortPath: Pressure
  value_type: xs:double
`), 0o600))

	yaml := fmt.Sprintf(`
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
mappings_file: %s
aas:
  url: http://aas.local:8081
`, mappingsPath)

	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	require.Len(t, cfg.Mappings, 1)
	require.Equal(t, "sm-pressure", cfg.Mappings[0].SubmodelID)
	require.Equal(t, "plc1", cfg.Mappings[0].Endpoint, "sole-endpoint default applies to file-sourced mappings too")
}

func TestLoadRejectsMissingEndpoints(t *testing.T) {
	path := writeConfig(t, "aas:\n  url: http://aas.local:8081\n")
	_, err := Load(path)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestLoadRejectsNonOpcTcpURL(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: http://plc1.local:4840
      name: plc1
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "opc.tcp://")
}

func TestLoadRejectsCertWithoutKey(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
      certPath: /tmp/cert.pem
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "certPath and keyPath")
}

func TestLoadRejectsSecureModeWithoutPolicy(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
      securityMode: Sign
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires a security policy")
}

func TestLoadRejectsInvertedRange(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
mappings:
  - opcua_node_id: "ns=2;s=X"
    endpoint: plc1
    submodel_id: sm1
    idShortPath: X
    value_type: xs:double
    range:
      min: 100
      max: 0
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "min")
}

func TestLoadRejectsMappingReferencingUnknownEndpoint(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
mappings:
  - opcua_node_id: "ns=2;s=X"
    endpoint: plc-does-not-exist
    submodel_id: sm1
    idShortPath: X
    value_type: xs:double
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared endpoint")
}

func TestLoadRejectsUnsupportedValueType(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
mappings:
  - opcua_node_id: "ns=2;s=X"
    endpoint: plc1
    submodel_id: sm1
    idShortPath: X
    value_type: xs:notatype
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported value type")
}

func TestLoadRejectsEventsEnabledWithoutBroker(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
aas:
  url: http://aas.local:8081
  events:
    enabled: true
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "mqtt_url")
}

func TestConnpoolEndpointsStripsSchemeAndReadsCertificates(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(certPath, []byte("cert-bytes"), 0o600))
	require.NoError(t, os.WriteFile(keyPath, []byte("key-bytes"), 0o600))

	cfg := &BridgeConfig{
		OpcUA: OpcUaConfig{Endpoints: []EndpointConfig{{
			URL:            "opc.tcp://plc1.local:4840",
			Name:           "plc1",
			SecurityPolicy: "Basic256Sha256",
			SecurityMode:   "SignAndEncrypt",
			CertPath:       certPath,
			KeyPath:        keyPath,
		}}},
	}
	endpoints, err := cfg.ConnpoolEndpoints()
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	require.Equal(t, "plc1.local:4840", endpoints[0].URL)
	require.Equal(t, []byte("cert-bytes"), endpoints[0].CertPEM)
	require.Equal(t, []byte("key-bytes"), endpoints[0].KeyPEM)
}

func TestLoadDefaultsMappingEndpointWhenOnlyOneConfigured(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
mappings:
  - opcua_node_id: "ns=2;s=X"
    submodel_id: sm1
    idShortPath: X
    value_type: xs:double
aas:
  url: http://aas.local:8081
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	require.Equal(t, "plc1", cfg.Mappings[0].Endpoint)
}

func TestLoadRejectsMissingMappingEndpointWithMultipleConfigured(t *testing.T) {
	yaml := `
opcua:
  endpoints:
    - url: opc.tcp://plc1.local:4840
      name: plc1
    - url: opc.tcp://plc2.local:4840
      name: plc2
mappings:
  - opcua_node_id: "ns=2;s=X"
    submodel_id: sm1
    idShortPath: X
    value_type: xs:double
aas:
  url: http://aas.local:8081
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "is required when more than one endpoint")
}

func TestMappingRulesDefaultsDirectionAndEnabled(t *testing.T) {
	cfg := &BridgeConfig{
		Mappings: []MappingConfig{{
			OpcNodeID:   "ns=2;s=X",
			SubmodelID:  "sm1",
			IDShortPath: "X",
			ValueType:   "xs:double",
		}},
	}
	rules := cfg.MappingRules()
	require.Len(t, rules, 1)
	require.True(t, rules[0].Enabled)
	require.Equal(t, "bidirectional", string(rules[0].Direction))
}

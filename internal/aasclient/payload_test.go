package aasclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePayloadUsesBodyFieldsOverHints(t *testing.T) {
	hints := EventHints{SubmodelID: "fallback", IDShortPath: "fallback-path"}
	body := []byte(`{"submodelId":"sm1","idShortPath":"Sensors/Temperature","value":21.5,"user":"operator1"}`)
	change, err := parsePayload(body, hints)
	require.NoError(t, err)
	require.Equal(t, "sm1", change.SubmodelID)
	require.Equal(t, "Sensors/Temperature", change.IDShortPath)
	require.Equal(t, 21.5, change.Value)
	require.Equal(t, "operator1", change.UserID)
}

func TestParsePayloadFallsBackToTopicHints(t *testing.T) {
	hints := EventHints{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"}
	body := []byte(`{"value":12}`)
	change, err := parsePayload(body, hints)
	require.NoError(t, err)
	require.Equal(t, "sm1", change.SubmodelID)
	require.Equal(t, "Sensors/Temperature", change.IDShortPath)
}

func TestParsePayloadUnwrapsEnvelope(t *testing.T) {
	body := []byte(`{"data":{"idShortPath":"Temperature","value":1}}`)
	change, err := parsePayload(body, EventHints{})
	require.NoError(t, err)
	require.Equal(t, "Temperature", change.IDShortPath)
}

func TestParsePayloadWithoutIdentityIsError(t *testing.T) {
	_, err := parsePayload([]byte(`{"value":1}`), EventHints{})
	require.Error(t, err)
}

func TestParsePayloadMalformedJSONIsError(t *testing.T) {
	_, err := parsePayload([]byte(`not json`), EventHints{IDShortPath: "x"})
	require.Error(t, err)
}

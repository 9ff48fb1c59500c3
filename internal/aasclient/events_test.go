package aasclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTopicExtractsSubmodelAndPath(t *testing.T) {
	topic := "sm-repository/events/submodels/c20/submodelElements/Sensors/Temperature/value"
	hints := ParseTopic(topic)
	require.Equal(t, "Sensors/Temperature", hints.IDShortPath)
	require.Equal(t, "Temperature", hints.IDShort)
}

func TestParseTopicWithoutVerbSuffix(t *testing.T) {
	hints := ParseTopic("events/submodels/c20/submodelElements/Temperature")
	require.Equal(t, "Temperature", hints.IDShortPath)
}

func TestParseTopicEmptyReturnsZeroValue(t *testing.T) {
	require.Equal(t, EventHints{}, ParseTopic(""))
}

func TestDecodeBase64URLFallsBackOnInvalidInput(t *testing.T) {
	require.Equal(t, "not-base64!!", DecodeBase64URL("not-base64!!"))
}

func TestDecodeBase64URLDecodesPaddingFreeValue(t *testing.T) {
	require.Equal(t, "hello", DecodeBase64URL("aGVsbG8"))
}

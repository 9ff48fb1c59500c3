package aasclient

import (
	"encoding/base64"
	"strings"
)

// verbSuffixes are trailing topic/payload segments that name the REST
// operation rather than part of the idShortPath; they are stripped when
// deriving an idShortPath from a topic.
var verbSuffixes = map[string]bool{
	"updated": true,
	"patched": true,
	"patch":   true,
	"value":   true,
	"$value":  true,
}

// EventHints is whatever identity the bridge could recover from a topic
// string, independent of the MQTT payload body.
type EventHints struct {
	IDShort     string
	IDShortPath string
	SubmodelID  string
}

// DecodeBase64URL decodes a padding-free base64url segment, falling back
// to the original string if it does not decode (some brokers pass plain
// submodel IDs unencoded).
func DecodeBase64URL(value string) string {
	if value == "" {
		return value
	}
	padded := value
	if m := len(value) % 4; m != 0 {
		padded += strings.Repeat("=", 4-m)
	}
	decoded, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return value
	}
	return string(decoded)
}

// ParseTopic extracts submodel id and idShortPath hints from a topic of
// the form
// ".../submodels/<base64url(submodelId)>/submodelElements/<idShortPath...>[/verb]".
//
// A literal '/' inside one idShort path segment is indistinguishable from
// a path separator in this grammar; such segments are not supported.
func ParseTopic(topic string) EventHints {
	if topic == "" {
		return EventHints{}
	}
	var parts []string
	for _, p := range strings.Split(topic, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	var hints EventHints
	if idx := indexOf(parts, "submodels"); idx >= 0 && idx+1 < len(parts) {
		hints.SubmodelID = DecodeBase64URL(parts[idx+1])
	}
	if idx := indexOf(parts, "submodelElements"); idx >= 0 {
		tail := parts[idx+1:]
		if len(tail) > 0 && verbSuffixes[strings.ToLower(tail[len(tail)-1])] {
			tail = tail[:len(tail)-1]
		}
		if len(tail) > 0 {
			hints.IDShortPath = strings.Join(tail, "/")
			hints.IDShort = tail[len(tail)-1]
		}
	}
	return hints
}

func indexOf(parts []string, target string) int {
	for i, p := range parts {
		if p == target {
			return i
		}
	}
	return -1
}

package aasclient

import "encoding/json"

// ElementChanged is emitted to the Controller whenever the AAS side
// reports (via MQTT or polling) that a submodel element's value changed.
type ElementChanged struct {
	SubmodelID  string
	IDShortPath string
	Value       any
	UserID      string
}

var wrapperKeys = []string{"data", "payload", "event"}

// parsePayload decodes an MQTT/webhook body, unwrapping it from the
// optional "data"/"payload"/"event" envelope keys, and fills in any
// submodelId/idShortPath missing from the body using topic hints.
func parsePayload(body []byte, hints EventHints) (ElementChanged, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return ElementChanged{}, &MqttError{Reason: "malformed JSON payload", Inner: err}
	}
	for _, key := range wrapperKeys {
		if inner, ok := raw[key].(map[string]any); ok {
			raw = inner
			break
		}
	}

	change := ElementChanged{
		SubmodelID:  hints.SubmodelID,
		IDShortPath: hints.IDShortPath,
	}
	if v, ok := stringField(raw, "submodelId"); ok {
		change.SubmodelID = v
	}
	if v, ok := stringField(raw, "idShortPath"); ok {
		change.IDShortPath = v
	} else if v, ok := stringField(raw, "idShort"); ok && change.IDShortPath == "" {
		change.IDShortPath = v
	}
	if v, ok := stringField(raw, "user"); ok {
		change.UserID = v
	}
	change.Value = raw["value"]

	if change.IDShortPath == "" {
		return ElementChanged{}, &MqttError{Reason: "could not determine idShortPath from payload or topic"}
	}
	return change, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

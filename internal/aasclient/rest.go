package aasclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
)

// restClient performs the v3 AAS repository REST operations: reading and
// writing a submodel element's $value, and first-use creation when
// auto-create is enabled.
type restClient struct {
	http               *resty.Client
	baseURL            string
	encodeIdentifiers  bool
	autoCreateSubmodel bool
	autoCreateElement  bool
}

func newRestClient(baseURL string, encodeIdentifiers, autoCreateSubmodel, autoCreateElement bool) *restClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	return &restClient{
		http:               http,
		baseURL:            baseURL,
		encodeIdentifiers:  encodeIdentifiers,
		autoCreateSubmodel: autoCreateSubmodel,
		autoCreateElement:  autoCreateElement,
	}
}

func (c *restClient) encodeSubmodelID(id string) string {
	if !c.encodeIdentifiers {
		return id
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(id))
}

func (c *restClient) valuePath(submodelID, idShortPath string) string {
	return fmt.Sprintf("/submodels/%s/submodel-elements/%s/$value", c.encodeSubmodelID(submodelID), idShortPath)
}

// Probe performs a lightweight reachability check against the
// repository's submodel collection, used by the Sync Manager's health
// check. Any response below 500 counts as reachable, including auth
// failures: the point is to detect a dead or unroutable backend, not
// to validate credentials.
func (c *restClient) Probe(ctx context.Context) error {
	const probePath = "/submodels"
	resp, err := c.http.R().SetContext(ctx).Get(probePath)
	if err != nil {
		return &HTTPError{Kind: HTTPTransport, URL: probePath, Inner: err}
	}
	if resp.StatusCode() >= 500 {
		return c.httpErrorFor(resp)
	}
	return nil
}

// CheckAuth performs the same reachability request as Probe but, unlike
// Probe, treats 401/403 as failure rather than "reachable" — it exists
// solely for the process-level startup preflight, which needs to tell
// "credentials rejected" apart from "credentials not yet validatable
// because the backend is unreachable," something the ongoing health
// probe deliberately does not distinguish.
func (c *restClient) CheckAuth(ctx context.Context) error {
	const probePath = "/submodels"
	resp, err := c.http.R().SetContext(ctx).Get(probePath)
	if err != nil {
		return &HTTPError{Kind: HTTPTransport, URL: probePath, Inner: err}
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return c.httpErrorFor(resp)
	}
	return nil
}

// GetValue reads the current $value for one element.
func (c *restClient) GetValue(submodelID, idShortPath string) (any, error) {
	resp, err := c.http.R().Get(c.valuePath(submodelID, idShortPath))
	if err != nil {
		return nil, &HTTPError{Kind: HTTPTransport, URL: c.valuePath(submodelID, idShortPath), Inner: err}
	}
	if resp.IsError() {
		return nil, c.httpErrorFor(resp)
	}
	var value any
	if err := json.Unmarshal(resp.Body(), &value); err != nil {
		return nil, &HTTPError{Kind: HTTPTransport, URL: c.valuePath(submodelID, idShortPath), Inner: err}
	}
	return value, nil
}

// PatchValue writes a new $value. On 404 with auto-create enabled the
// caller should invoke CreateElement and retry once, per the write
// protocol.
func (c *restClient) PatchValue(submodelID, idShortPath string, value any, valueType codec.ValueType) error {
	body, err := encodeJSONValue(value, valueType)
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetBody(map[string]any{"value": body}).
		Patch(c.valuePath(submodelID, idShortPath))
	if err != nil {
		return &HTTPError{Kind: HTTPTransport, URL: c.valuePath(submodelID, idShortPath), Inner: err}
	}
	if resp.IsError() {
		return c.httpErrorFor(resp)
	}
	return nil
}

// CreateElement creates a minimal Property descriptor carrying idShort and
// valueType, creating the parent submodel first if autoCreateSubmodel is
// set and it does not yet exist.
func (c *restClient) CreateElement(submodelID, idShortPath string, valueType codec.ValueType) error {
	if c.autoCreateSubmodel {
		const smURL = "/submodels"
		resp, err := c.http.R().SetBody(map[string]any{"id": submodelID}).Post(smURL)
		if err != nil {
			return &HTTPError{Kind: HTTPTransport, URL: smURL, Inner: err}
		}
		if resp.IsError() && resp.StatusCode() != 409 {
			return c.httpErrorFor(resp)
		}
	}
	if !c.autoCreateElement {
		return &HTTPError{Kind: HTTPNotFound, URL: idShortPath}
	}
	idShort := idShortPath
	if idx := strings.LastIndex(idShortPath, "/"); idx >= 0 {
		idShort = idShortPath[idx+1:]
	}
	elURL := fmt.Sprintf("/submodels/%s/submodel-elements", c.encodeSubmodelID(submodelID))
	resp, err := c.http.R().
		SetBody(map[string]any{
			"modelType": "Property",
			"idShort":   idShort,
			"valueType": valueType,
		}).
		Post(elURL)
	if err != nil {
		return &HTTPError{Kind: HTTPTransport, URL: elURL, Inner: err}
	}
	if resp.IsError() && resp.StatusCode() != 409 {
		return c.httpErrorFor(resp)
	}
	return nil
}

func (c *restClient) httpErrorFor(resp *resty.Response) *HTTPError {
	return &HTTPError{
		Kind:       classifyStatus(resp.StatusCode()),
		StatusCode: resp.StatusCode(),
		URL:        resp.Request.URL,
	}
}

// encodeJSONValue renders a decoded Go value as the JSON value the AAS
// REST API expects for valueType: booleans as JSON booleans, narrow
// integers as JSON numbers, 64-bit integers as strings (JSON-safe-integer
// range is +-2^53), floats as numbers (rejecting NaN/Inf), dateTime as
// ISO-8601 UTC, base64Binary as a base64 string.
func encodeJSONValue(value any, valueType codec.ValueType) (any, error) {
	switch valueType {
	case codec.Long, codec.UnsignedLong:
		return fmt.Sprintf("%v", value), nil
	case codec.Float, codec.Double:
		f, ok := toFloatForJSON(value)
		if !ok {
			return nil, fmt.Errorf("aasclient: cannot encode %v as JSON number", value)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("aasclient: NaN/Inf values are not JSON-representable")
		}
		return f, nil
	case codec.DateTime:
		if t, ok := value.(interface{ UTC() time.Time }); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		return value, nil
	case codec.Base64Binary:
		if b, ok := value.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b), nil
		}
		return value, nil
	default:
		return value, nil
	}
}

func toFloatForJSON(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}


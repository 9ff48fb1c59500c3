package aasclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
)

func TestGetValueReturnsDecodedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/submodels/sm1/submodel-elements/Temperature/$value", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("42.5"))
	}))
	defer srv.Close()

	client := newRestClient(srv.URL, false, false, false)
	value, err := client.GetValue("sm1", "Temperature")
	require.NoError(t, err)
	require.Equal(t, 42.5, value)
}

func TestGetValueNotFoundReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newRestClient(srv.URL, false, false, false)
	_, err := client.GetValue("sm1", "Missing")
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, HTTPNotFound, httpErr.Kind)
}

func TestPatchValueSendsEncodedBody(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newRestClient(srv.URL, false, false, false)
	err := client.PatchValue("sm1", "Temperature", 21.0, codec.Double)
	require.NoError(t, err)
	require.Equal(t, 21.0, received["value"])
}

func TestPatchValueEncodesLongAsString(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newRestClient(srv.URL, false, false, false)
	err := client.PatchValue("sm1", "Counter", int64(9007199254740993), codec.Long)
	require.NoError(t, err)
	require.Equal(t, "9007199254740993", received["value"])
}

func TestCreateElementSkipsWhenAutoCreateDisabled(t *testing.T) {
	client := newRestClient("http://unused.invalid", false, false, false)
	err := client.CreateElement("sm1", "Temperature", codec.Double)
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, HTTPNotFound, httpErr.Kind)
}

func TestCreateElementPostsSubmodelAndElement(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newRestClient(srv.URL, false, true, true)
	err := client.CreateElement("sm1", "Sensors/Temperature", codec.Double)
	require.NoError(t, err)
	require.Contains(t, paths, "/submodels")
	require.Contains(t, paths, "/submodels/sm1/submodel-elements")
}

func TestEncodeSubmodelIDWhenEncodingEnabled(t *testing.T) {
	client := newRestClient("http://unused.invalid", true, false, false)
	require.Equal(t, "aHR0cHM6Ly9leGFtcGxlLmNvbS9zbTE", client.encodeSubmodelID("https://example.com/sm1"))
}

func TestEncodeSubmodelIDWhenEncodingDisabled(t *testing.T) {
	client := newRestClient("http://unused.invalid", false, false, false)
	require.Equal(t, "https://example.com/sm1", client.encodeSubmodelID("https://example.com/sm1"))
}

package connpool

import (
	"errors"
	"fmt"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// ErrUnavailable indicates the requested session is not currently
// Connected and the caller's wait deadline elapsed.
var ErrUnavailable = errors.New("connpool: session unavailable")

// OpcError wraps an OPC UA service fault surfaced through the pool.
type OpcError struct {
	Endpoint string
	Inner    error
}

func (e *OpcError) Error() string {
	return fmt.Sprintf("connpool: %s: %v", e.Endpoint, e.Inner)
}

func (e *OpcError) Unwrap() error { return e.Inner }

func wrapOpcError(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	return &OpcError{Endpoint: endpoint, Inner: err}
}

// IsUnavailable reports whether err indicates a temporarily unready
// dependency rather than a permanent fault.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// StatusOf extracts the underlying OPC UA status code, if any.
func StatusOf(err error) (opcuaproto.StatusCode, bool) {
	var oe *OpcError
	if !errors.As(err, &oe) {
		return 0, false
	}
	var ue *opcuaproto.OPCUAError
	if errors.As(oe.Inner, &ue) {
		return ue.Code, true
	}
	return 0, false
}

package main

import (
	"errors"
	"strings"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

func trimOpcScheme(url string) string {
	return strings.TrimPrefix(url, "opc.tcp://")
}

func asOPCUAAuthError(err error) (*opcuaproto.OPCUAError, bool) {
	var oe *opcuaproto.OPCUAError
	if errors.As(err, &oe) && opcuaproto.IsUserAccessDenied(oe) {
		return oe, true
	}
	return nil, false
}

func asAasAuthError(err error) (*aasclient.HTTPError, bool) {
	var he *aasclient.HTTPError
	if errors.As(err, &he) && (he.StatusCode == 401 || he.StatusCode == 403) {
		return he, true
	}
	return nil, false
}

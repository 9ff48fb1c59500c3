// Copyright 2024 Edgeo SCADA contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuaproto

import "fmt"

// StatusCode is an OPC UA result/status code. The top two bits carry the
// severity (Good/Uncertain/Bad).
type StatusCode uint32

const (
	StatusSeverityMask      StatusCode = 0xC0000000
	StatusSeverityGood      StatusCode = 0x00000000
	StatusSeverityUncertain StatusCode = 0x40000000
	StatusSeverityBad       StatusCode = 0x80000000
)

const (
	StatusGood                    StatusCode = 0x00000000
	StatusBadTimeout               StatusCode = 0x800A0000
	StatusBadNotConnected          StatusCode = 0x80AD0000
	StatusBadSessionIDInvalid      StatusCode = 0x80250000
	StatusBadSessionClosed         StatusCode = 0x80260000
	StatusBadSecureChannelClosed   StatusCode = 0x80310000
	StatusBadSecureChannelIDInvalid StatusCode = 0x80270000
	StatusBadNodeIDUnknown         StatusCode = 0x80330000
	StatusBadAttributeIDInvalid    StatusCode = 0x80350000
	StatusBadNotReadable           StatusCode = 0x803A0000
	StatusBadNotWritable           StatusCode = 0x803B0000
	StatusBadUserAccessDenied      StatusCode = 0x801F0000
	StatusBadOutOfRange            StatusCode = 0x803C0000
	StatusBadTypeMismatch          StatusCode = 0x80740000
	StatusBadConnectionClosed      StatusCode = 0x80AE0000
)

// IsGood reports whether the code's severity bits indicate success.
func (s StatusCode) IsGood() bool { return s&StatusSeverityMask == StatusSeverityGood }

// IsUncertain reports whether the code's severity bits are Uncertain.
func (s StatusCode) IsUncertain() bool { return s&StatusSeverityMask == StatusSeverityUncertain }

// IsBad reports whether the code's severity bits are Bad.
func (s StatusCode) IsBad() bool { return s&StatusSeverityMask == StatusSeverityBad }

func (s StatusCode) String() string {
	switch s {
	case StatusGood:
		return "Good"
	case StatusBadTimeout:
		return "BadTimeout"
	case StatusBadNotConnected:
		return "BadNotConnected"
	case StatusBadSessionIDInvalid:
		return "BadSessionIdInvalid"
	case StatusBadSessionClosed:
		return "BadSessionClosed"
	case StatusBadSecureChannelClosed:
		return "BadSecureChannelClosed"
	case StatusBadSecureChannelIDInvalid:
		return "BadSecureChannelIdInvalid"
	case StatusBadNodeIDUnknown:
		return "BadNodeIdUnknown"
	case StatusBadAttributeIDInvalid:
		return "BadAttributeIdInvalid"
	case StatusBadNotReadable:
		return "BadNotReadable"
	case StatusBadNotWritable:
		return "BadNotWritable"
	case StatusBadUserAccessDenied:
		return "BadUserAccessDenied"
	case StatusBadOutOfRange:
		return "BadOutOfRange"
	case StatusBadTypeMismatch:
		return "BadTypeMismatch"
	case StatusBadConnectionClosed:
		return "BadConnectionClosed"
	default:
		return fmt.Sprintf("Status(0x%08X)", uint32(s))
	}
}

// OPCUAError wraps a failed service call with its status code.
type OPCUAError struct {
	Service ServiceID
	Code    StatusCode
	Message string
}

func NewOPCUAError(service ServiceID, code StatusCode, message string) *OPCUAError {
	return &OPCUAError{Service: service, Code: code, Message: message}
}

func (e *OPCUAError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("opcua: %s failed: %s (%s)", e.Service, e.Code, e.Message)
	}
	return fmt.Sprintf("opcua: %s failed: %s", e.Service, e.Code)
}

// Is allows errors.Is(err, &OPCUAError{Code: X}) to match on status code
// alone.
func (e *OPCUAError) Is(target error) bool {
	other, ok := target.(*OPCUAError)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

func IsTimeout(err error) bool          { return isStatus(err, StatusBadTimeout) }
func IsNotConnected(err error) bool     { return isStatus(err, StatusBadNotConnected) }
func IsSessionClosed(err error) bool    { return isStatus(err, StatusBadSessionClosed) }
func IsSecureChannelClosed(err error) bool { return isStatus(err, StatusBadSecureChannelClosed) }
func IsNodeIDUnknown(err error) bool    { return isStatus(err, StatusBadNodeIDUnknown) }
func IsNotWritable(err error) bool      { return isStatus(err, StatusBadNotWritable) }
func IsUserAccessDenied(err error) bool { return isStatus(err, StatusBadUserAccessDenied) }

func isStatus(err error, code StatusCode) bool {
	oe, ok := err.(*OPCUAError)
	return ok && oe.Code == code
}

// IsRetryable reports whether a fault typically resolves itself on
// reconnect, as opposed to a permanent configuration problem.
func IsRetryable(err error) bool {
	oe, ok := err.(*OPCUAError)
	if !ok {
		return false
	}
	switch oe.Code {
	case StatusBadTimeout, StatusBadNotConnected, StatusBadSessionClosed,
		StatusBadSecureChannelClosed, StatusBadSecureChannelIDInvalid, StatusBadConnectionClosed:
		return true
	default:
		return false
	}
}

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

// SecurityPolicy identifies the OPC UA secure-channel security policy.
type SecurityPolicy string

const (
	SecurityPolicyNone               SecurityPolicy = "None"
	SecurityPolicyBasic128Rsa15      SecurityPolicy = "Basic128Rsa15"
	SecurityPolicyBasic256           SecurityPolicy = "Basic256"
	SecurityPolicyBasic256Sha256     SecurityPolicy = "Basic256Sha256"
	SecurityPolicyAes128Sha256RsaOaep SecurityPolicy = "Aes128_Sha256_RsaOaep"
	SecurityPolicyAes256Sha256RsaPss  SecurityPolicy = "Aes256_Sha256_RsaPss"
)

// MessageSecurityMode identifies the per-message protection level.
type MessageSecurityMode uint32

const (
	MessageSecurityModeInvalid MessageSecurityMode = iota
	MessageSecurityModeNone
	MessageSecurityModeSign
	MessageSecurityModeSignAndEncrypt
)

func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// ParseSecurityPolicy validates s against the closed set of supported
// policies.
func ParseSecurityPolicy(s string) (SecurityPolicy, bool) {
	switch SecurityPolicy(s) {
	case SecurityPolicyNone, SecurityPolicyBasic128Rsa15, SecurityPolicyBasic256,
		SecurityPolicyBasic256Sha256, SecurityPolicyAes128Sha256RsaOaep, SecurityPolicyAes256Sha256RsaPss:
		return SecurityPolicy(s), true
	default:
		return "", false
	}
}

// ParseMessageSecurityMode validates s against the supported modes.
func ParseMessageSecurityMode(s string) (MessageSecurityMode, bool) {
	switch s {
	case "None":
		return MessageSecurityModeNone, true
	case "Sign":
		return MessageSecurityModeSign, true
	case "SignAndEncrypt":
		return MessageSecurityModeSignAndEncrypt, true
	default:
		return MessageSecurityModeInvalid, false
	}
}

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

package opcuaclient

import (
	"log/slog"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// AuthType selects the user identity token presented at ActivateSession.
type AuthType int

const (
	AuthAnonymous AuthType = iota
	AuthUserPassword
	AuthCertificate
)

type clientOptions struct {
	endpoint        string
	timeout         time.Duration
	securityPolicy  opcuaproto.SecurityPolicy
	securityMode    opcuaproto.MessageSecurityMode
	certPEM         []byte
	keyPEM          []byte
	remoteCertPEM   []byte
	sessionName     string
	sessionTimeout  time.Duration
	authType        AuthType
	username        string
	password        string
	applicationURI  string
	applicationName string
	logger          *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		timeout:         5 * time.Second,
		securityPolicy:  opcuaproto.SecurityPolicyNone,
		securityMode:    opcuaproto.MessageSecurityModeNone,
		sessionName:     "basyx-opcua-bridge",
		sessionTimeout:  60 * time.Second,
		authType:        AuthAnonymous,
		applicationURI:  "urn:basyx-opcua-bridge:client",
		applicationName: "basyx-opcua-bridge",
		logger:          slog.Default(),
	}
}

// Option configures a Client at construction time.
type Option func(*clientOptions)

func WithEndpoint(addr string) Option {
	return func(o *clientOptions) { o.endpoint = addr }
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

func WithSecurityPolicy(p opcuaproto.SecurityPolicy) Option {
	return func(o *clientOptions) { o.securityPolicy = p }
}

func WithSecurityMode(m opcuaproto.MessageSecurityMode) Option {
	return func(o *clientOptions) { o.securityMode = m }
}

func WithCertificate(certPEM, keyPEM []byte) Option {
	return func(o *clientOptions) {
		o.certPEM = certPEM
		o.keyPEM = keyPEM
	}
}

func WithRemoteCertificate(certPEM []byte) Option {
	return func(o *clientOptions) { o.remoteCertPEM = certPEM }
}

func WithSessionName(name string) Option {
	return func(o *clientOptions) { o.sessionName = name }
}

func WithSessionTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.sessionTimeout = d }
}

func WithAnonymousAuth() Option {
	return func(o *clientOptions) { o.authType = AuthAnonymous }
}

func WithUserPasswordAuth(username, password string) Option {
	return func(o *clientOptions) {
		o.authType = AuthUserPassword
		o.username = username
		o.password = password
	}
}

func WithCertificateAuth() Option {
	return func(o *clientOptions) { o.authType = AuthCertificate }
}

func WithApplicationURI(uri string) Option {
	return func(o *clientOptions) { o.applicationURI = uri }
}

func WithApplicationName(name string) Option {
	return func(o *clientOptions) { o.applicationName = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// subscriptionOptions configure a CreateSubscription call.
type subscriptionOptions struct {
	publishingInterval time.Duration
	lifetimeCount      uint32
	maxKeepAliveCount  uint32
	maxNotifications   uint32
	publishingEnabled  bool
	priority           byte
}

func defaultSubscriptionOptions() *subscriptionOptions {
	return &subscriptionOptions{
		publishingInterval: 1000 * time.Millisecond,
		lifetimeCount:      10000,
		maxKeepAliveCount:  10,
		maxNotifications:   0,
		publishingEnabled:  true,
	}
}

// SubscriptionOption configures CreateSubscription.
type SubscriptionOption func(*subscriptionOptions)

func WithPublishingInterval(d time.Duration) SubscriptionOption {
	return func(o *subscriptionOptions) { o.publishingInterval = d }
}

func WithLifetimeCount(n uint32) SubscriptionOption {
	return func(o *subscriptionOptions) { o.lifetimeCount = n }
}

func WithMaxKeepAliveCount(n uint32) SubscriptionOption {
	return func(o *subscriptionOptions) { o.maxKeepAliveCount = n }
}

func WithMaxNotificationsPerPublish(n uint32) SubscriptionOption {
	return func(o *subscriptionOptions) { o.maxNotifications = n }
}

func WithPublishingEnabled(enabled bool) SubscriptionOption {
	return func(o *subscriptionOptions) { o.publishingEnabled = enabled }
}

// monitoredItemOptions configure one CreateMonitoredItems entry.
type monitoredItemOptions struct {
	samplingInterval time.Duration
	queueSize        uint32
	discardOldest    bool
}

func defaultMonitoredItemOptions() *monitoredItemOptions {
	return &monitoredItemOptions{
		samplingInterval: 100 * time.Millisecond,
		queueSize:        10,
		discardOldest:    true,
	}
}

// MonitoredItemOption configures one monitored item.
type MonitoredItemOption func(*monitoredItemOptions)

func WithSamplingInterval(d time.Duration) MonitoredItemOption {
	return func(o *monitoredItemOptions) { o.samplingInterval = d }
}

func WithQueueSize(n uint32) MonitoredItemOption {
	return func(o *monitoredItemOptions) { o.queueSize = n }
}

func WithDiscardOldest(discard bool) MonitoredItemOption {
	return func(o *monitoredItemOptions) { o.discardOldest = discard }
}

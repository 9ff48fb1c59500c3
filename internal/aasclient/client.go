// Package aasclient talks to an AAS v3 REST repository and, depending on
// configuration, receives change notifications over MQTT or by polling.
package aasclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
)

// Config configures a Client's REST base and event ingress mode.
type Config struct {
	BaseURL            string
	EncodeIdentifiers  bool
	AutoCreateSubmodel bool
	AutoCreateElement  bool

	EventsEnabled   bool
	MqttBrokerURL   string
	MqttTopic       string
	PollInterval    time.Duration
	PollTargets     []PollTarget

	Logger *slog.Logger
}

// Client is the AAS-side half of the bridge: REST read/write and one of
// {MQTT, polling} for change ingress.
type Client struct {
	rest   *restClient
	cfg    Config
	logger *slog.Logger

	events  chan ElementChanged
	mqtt    *mqttIngress
	poll    *poller
	pollCancel context.CancelFunc
}

const defaultMqttTopic = "sm-repository/+/submodels/+/submodelElements/#"

// New constructs a Client. Call Start to begin event ingress.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MqttTopic == "" {
		cfg.MqttTopic = defaultMqttTopic
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Client{
		rest:   newRestClient(cfg.BaseURL, cfg.EncodeIdentifiers, cfg.AutoCreateSubmodel, cfg.AutoCreateElement),
		cfg:    cfg,
		logger: logger,
		events: make(chan ElementChanged, 1024),
	}
}

// Events returns the channel the Controller should drain for incoming
// AAS-side changes.
func (c *Client) Events() <-chan ElementChanged { return c.events }

// Start begins exactly one ingress mechanism: MQTT when EventsEnabled,
// otherwise polling.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.EventsEnabled {
		c.mqtt = newMqttIngress(c.cfg.MqttBrokerURL, c.cfg.MqttTopic, defaultClientID(), c.logger, c.events)
		return c.mqtt.start()
	}
	c.poll = newPoller(c.rest, c.cfg.PollInterval, c.cfg.PollTargets, c.logger, c.events)
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	go c.poll.run(pollCtx)
	return nil
}

// Stop tears down whichever ingress mechanism was started.
func (c *Client) Stop() {
	if c.mqtt != nil {
		c.mqtt.stop()
	}
	if c.pollCancel != nil {
		c.pollCancel()
	}
}

// WriteValue PATCHes a new value for one element, creating it first (and
// retrying once) if it does not exist and auto-create is enabled.
func (c *Client) WriteValue(submodelID, idShortPath string, value any, valueType codec.ValueType) error {
	err := c.rest.PatchValue(submodelID, idShortPath, value, valueType)
	if err == nil {
		return nil
	}
	httpErr, ok := err.(*HTTPError)
	if !ok || httpErr.Kind != HTTPNotFound {
		return err
	}
	if createErr := c.rest.CreateElement(submodelID, idShortPath, valueType); createErr != nil {
		return createErr
	}
	return c.rest.PatchValue(submodelID, idShortPath, value, valueType)
}

// ReadValue GETs the current $value for one element.
func (c *Client) ReadValue(submodelID, idShortPath string) (any, error) {
	return c.rest.GetValue(submodelID, idShortPath)
}

// Probe checks that the AAS repository is reachable, independent of
// which event ingress mode is active. The Sync Manager polls this on
// its own cadence to drive Healthy().
func (c *Client) Probe(ctx context.Context) error {
	return c.rest.Probe(ctx)
}

// CheckAuth is Probe's stricter sibling for startup use: it fails on
// 401/403 instead of counting them as reachable. See restClient.CheckAuth.
func (c *Client) CheckAuth(ctx context.Context) error {
	return c.rest.CheckAuth(ctx)
}

package aasclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// PollTarget is one element the poller checks for drift each cycle.
type PollTarget struct {
	SubmodelID  string
	IDShortPath string
}

// poller is the MQTT-disabled fallback ingress: it re-reads every mapped
// element's $value on a fixed interval and emits ElementChanged only when
// the JSON-normalized value differs from what was last observed.
type poller struct {
	rest     *restClient
	interval time.Duration
	targets  []PollTarget
	logger   *slog.Logger
	out      chan<- ElementChanged

	lastSeen map[string]string
}

func newPoller(rest *restClient, interval time.Duration, targets []PollTarget, logger *slog.Logger, out chan<- ElementChanged) *poller {
	return &poller{
		rest:     rest,
		interval: interval,
		targets:  targets,
		logger:   logger,
		out:      out,
		lastSeen: make(map[string]string),
	}
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *poller) pollOnce() {
	for _, target := range p.targets {
		value, err := p.rest.GetValue(target.SubmodelID, target.IDShortPath)
		if err != nil {
			p.logger.Debug("poll read failed", "submodel_id", target.SubmodelID, "id_short_path", target.IDShortPath, "error", err)
			continue
		}
		key := target.SubmodelID + "#" + target.IDShortPath
		normalized, err := json.Marshal(value)
		if err != nil {
			continue
		}
		if string(normalized) == p.lastSeen[key] {
			continue
		}
		p.lastSeen[key] = string(normalized)
		change := ElementChanged{SubmodelID: target.SubmodelID, IDShortPath: target.IDShortPath, Value: value}
		select {
		case p.out <- change:
		default:
			p.logger.Warn("aas event channel full, dropping polled change", "id_short_path", target.IDShortPath)
		}
	}
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/metrics"
)

// nsqStats is the part of nsqd's /stats?format=json response we read.
type nsqStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Channels []struct {
			Name  string `json:"channel_name"`
			Depth int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd for the depth of the connector channel and
// exports it as the inbound backlog gauge.
type BacklogMonitor struct {
	statsURL string
	topic    string
	channel  string
	interval time.Duration
	client   *http.Client
	logger   *logging.Logger
}

func NewBacklogMonitor(cfg config.NSQ, interval time.Duration, logger *logging.Logger) *BacklogMonitor {
	addr := cfg.NsqdHTTPAddr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &BacklogMonitor{
		statsURL: strings.TrimSuffix(addr, "/") + "/stats?format=json",
		topic:    cfg.InboundTopic,
		channel:  cfg.Channel,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Poll reads the current channel depth once and updates the gauge. A missing
// topic or channel counts as an empty backlog.
func (b *BacklogMonitor) Poll(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decode nsq stats: %w", err)
	}

	var depth int64
	for _, t := range stats.Topics {
		if t.Name != b.topic {
			continue
		}
		for _, c := range t.Channels {
			if c.Name == b.channel {
				depth = c.Depth
			}
		}
	}
	metrics.UpdateInboundBacklog(float64(depth))
	return depth, nil
}

// Run polls until ctx is done.
func (b *BacklogMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Poll(ctx); err != nil && ctx.Err() == nil {
				b.logger.Plain().WithError(err).Error("Failed to update inbound backlog")
			}
		}
	}
}

package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/where-is-my-bus/internal/config"
	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/gtfsrt"
)

// maxFeedBytes caps the size of an upstream feed.
const maxFeedBytes = 32 << 20

// Poller periodically imports an upstream GTFS-Realtime VehiclePositions feed.
type Poller struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	store      db.VehicleStore
}

// NewPoller creates a poller for the configured feed.
func NewPoller(cfg config.GTFSRTConfig, store db.VehicleStore) *Poller {
	return &Poller{
		url:        cfg.URL,
		interval:   cfg.Interval,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
	}
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.Poll(ctx)
			if err != nil {
				log.WithError(err).WithField("url", p.url).Warn("GTFS-RT poll failed")
			} else {
				log.WithFields(log.Fields{"url": p.url, "vehicles": n}).Debug("GTFS-RT poll complete")
			}
			t.Reset(p.interval)
		}
	}
}

// Poll fetches the feed once and upserts every vehicle it carries. It
// returns the number of vehicles stored.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gtfs-rt http status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return 0, fmt.Errorf("read feed: %w", err)
	}

	updates, err := gtfsrt.Decode(body)
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, fields := range updates {
		if _, err := Submit(p.store, fields); err != nil {
			continue
		}
		stored++
	}
	return stored, nil
}

package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	// alertCooldown suppresses repeats of an alert type that was delivered
	// recently, so a sustained failure posts once rather than every tick.
	alertCooldown = time.Hour
)

// Checker evaluates run health on a ticker while the server is up.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	now       func() time.Time
	lastSent  map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackHours,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: run health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: run health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect run summary", zap.Error(err))
		return
	}
	log.Debug("monitoring: snapshot",
		zap.Int("runs", snap.Runs),
		zap.Int("failed", snap.Failed),
		zap.Int("items", snap.Items),
		zap.Float64("item_error_rate", snap.ItemErrorRate),
	)

	now := c.now()
	var due []Alert
	for _, a := range c.alerter.Evaluate(snap) {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < alertCooldown {
			continue
		}
		due = append(due, a)
	}
	if len(due) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, due)
	if sent == len(due) {
		for _, a := range due {
			c.lastSent[a.Type] = now
		}
	}
	log.Info("monitoring: alerts evaluated",
		zap.Int("triggered", len(due)),
		zap.Int("sent", sent),
	)
}

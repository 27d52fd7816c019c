package browser

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"disguise/config"
)

// LaunchInfo records the identity a session was launched with.
type LaunchInfo struct {
	UserAgent string
	Width     int
	Height    int
}

// Launch starts the configured driver with a random viewport and user agent
// from the configured pool.
func Launch(ctx context.Context, cfg config.BrowserConfig, log *zap.SugaredLogger) (Session, LaunchInfo, error) {
	width, height := randomViewport(cfg.MinViewport, cfg.MaxViewport)
	info := LaunchInfo{
		UserAgent: cfg.UserAgents[randomInt(len(cfg.UserAgents))],
		Width:     width,
		Height:    height,
	}

	var (
		s   Session
		err error
	)
	switch cfg.Driver {
	case config.DriverRod:
		s, err = launchRod(ctx, cfg, info)
	case config.DriverChromedp:
		s, err = launchChromedp(ctx, cfg, info)
	default:
		return nil, LaunchInfo{}, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, LaunchInfo{}, err
	}

	log.Infow("browser ready",
		"driver", cfg.Driver,
		"userAgent", info.UserAgent,
		"viewportWidth", info.Width,
		"viewportHeight", info.Height,
		"headless", cfg.Headless,
	)
	return s, info, nil
}

func randomViewport(min, max int) (int, int) {
	if max < min {
		min, max = max, min
	}

	w := min + randomInt(max-min+1)
	// Keep a common desktop aspect ratio to avoid anomalous sizes.
	h := int(math.Round(float64(w) * 0.5625)) // ~16:9

	return w, h
}

func randomInt(limit int) int {
	if limit <= 1 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	n := binary.BigEndian.Uint64(b[:])
	return int(n % uint64(limit))
}

package main

import (
	"context"
	"math"
	"time"

	"github.com/diagnosis/lenslink/pkg/relay"
)

const metersPerDegree = 111_320.0

// walk is a fake GPS that heads slowly around a circle.
type walk struct {
	lat, lng float64
	step     float64
	tick     time.Duration
	deny     bool
}

func (w *walk) Watch(ctx context.Context, onFix func(relay.Fix)) error {
	if w.deny {
		return relay.ErrPermissionDenied
	}
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	bearing := 0.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			onFix(relay.Fix{Lat: w.lat, Lng: w.lng, Accuracy: 5, RecordedAt: now.UTC()})
			w.lat += w.step * math.Cos(bearing) / metersPerDegree
			w.lng += w.step * math.Sin(bearing) / (metersPerDegree * math.Cos(w.lat*math.Pi/180))
			bearing += math.Pi / 36
		}
	}
}

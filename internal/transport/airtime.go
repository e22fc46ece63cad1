package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// AirtimeLimited wraps a Radio with a transmit budget in bytes per second,
// approximating the duty cycle limit of a real LoRa channel.
type AirtimeLimited struct {
	Radio
	limiter *rate.Limiter
}

// WithAirtime limits r to bytesPerSecond. If bytesPerSecond is 0 or
// negative, r is returned unchanged.
func WithAirtime(r Radio, bytesPerSecond int) Radio {
	if bytesPerSecond <= 0 {
		return r
	}

	// A full frame must always fit in the bucket, otherwise WaitN fails.
	burst := MaxFrameSize
	if bytesPerSecond > burst {
		burst = bytesPerSecond
	}

	return &AirtimeLimited{
		Radio:   r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Transmit waits for airtime, then transmits.
func (a *AirtimeLimited) Transmit(ctx context.Context, data []byte) error {
	if err := checkFrame(data); err != nil {
		return err
	}
	if err := a.limiter.WaitN(ctx, len(data)); err != nil {
		return err
	}
	return a.Radio.Transmit(ctx, data)
}

// Delay reports how long a frame of n bytes would wait right now.
func (a *AirtimeLimited) Delay(n int) time.Duration {
	r := a.limiter.ReserveN(time.Now(), n)
	defer r.Cancel()
	return r.Delay()
}

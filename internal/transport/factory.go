package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/postalsys/meshcore/internal/chaos"
	"github.com/postalsys/meshcore/internal/config"
	"github.com/postalsys/meshcore/internal/logging"
)

var (
	sharedMedium     *Medium
	sharedMediumOnce sync.Once
)

// SharedMedium returns the process-wide medium used by memory radios built
// through New.
func SharedMedium() *Medium {
	sharedMediumOnce.Do(func() {
		sharedMedium = NewMedium()
	})
	return sharedMedium
}

// New builds the radio described by cfg, wrapped with the configured
// airtime budget and, when set, injected link faults.
func New(ctx context.Context, cfg config.RadioConfig, logger *slog.Logger) (Radio, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var (
		r   Radio
		err error
	)
	switch TransportType(cfg.Transport) {
	case TransportMemory:
		name := cfg.Address
		if name == "" {
			name = "memory"
		}
		r = SharedMedium().Attach(name)

	case TransportUDP:
		r, err = ListenUDP(cfg.Address, cfg.Interface, logger)

	case TransportWS:
		r, err = DialWS(ctx, cfg.Address, nil, logger)

	case TransportQUIC:
		if cfg.Listen != "" {
			tlsConfig, terr := serverTLS(cfg.TLS)
			if terr != nil {
				return nil, terr
			}
			r, err = ListenQUIC(cfg.Listen, tlsConfig, logger)
		} else {
			tlsConfig, terr := clientTLS(cfg.TLS)
			if terr != nil {
				return nil, terr
			}
			r, err = DialQUIC(ctx, cfg.Address, tlsConfig, logger)
		}

	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	r = WithAirtime(r, cfg.AirtimeBytesPerSecond)

	faults := chaos.Config{
		DropRate:    cfg.Faults.DropRate,
		CorruptRate: cfg.Faults.CorruptRate,
		MinDelay:    cfg.Faults.MinDelay,
		MaxDelay:    cfg.Faults.MaxDelay,
		Seed:        cfg.Faults.Seed,
	}
	if faults.Enabled() {
		logger.Warn("radio fault injection enabled",
			"drop_rate", faults.DropRate,
			"corrupt_rate", faults.CorruptRate,
			"max_delay", faults.MaxDelay)
		r = chaos.Wrap(r, chaos.NewFaultInjector(faults))
	}

	return r, nil
}

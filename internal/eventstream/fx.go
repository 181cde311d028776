package eventstream

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railzway-benefits/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("eventstream",
	fx.Provide(NewHub),
	fx.Provide(NewPublisher),
	fx.Invoke(startRelay),
)

type PublisherParams struct {
	fx.In

	Hub    *Hub
	Redis  *redis.Client `optional:"true"`
	Config config.Config
}

// NewPublisher uses Redis pub/sub when a client is configured and the
// in-process Hub otherwise.
func NewPublisher(p PublisherParams) Publisher {
	if p.Redis == nil {
		return p.Hub
	}
	return NewRedisPublisher(p.Redis, p.Config.Redis.EventChannelPrefix)
}

type relayParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Hub       *Hub
	Redis     *redis.Client `optional:"true"`
	Config    config.Config
	Log       *zap.Logger
}

func startRelay(p relayParams) {
	if p.Redis == nil {
		return
	}
	log := p.Log.Named("eventstream.relay")
	relay := NewRelay(p.Redis, p.Hub, p.Config.Redis.EventChannelPrefix, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("event relay stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

package lock

import "go.uber.org/fx"

var Module = fx.Module("lock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewGrantLocks),
)

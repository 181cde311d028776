package grantevent

import (
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("grantevent",
	fx.Provide(
		NewEmitter,
		func(e *Emitter) grantdomain.Emitter { return e },
	),
)

// JobsModule registers the customer-state projection on the worker registry.
var JobsModule = fx.Module("grantevent.jobs",
	fx.Provide(NewCustomerState),
	fx.Invoke(RegisterCustomerState),
)

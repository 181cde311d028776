package benefitgrant

import (
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/repository"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("benefitgrant.service",
	fx.Provide(repository.Provide),
	fx.Provide(scope.NewResolver),
	fx.Provide(service.NewService),
	fx.Provide(service.NewReconciler),
)

// JobsModule registers the grant engine handlers on the worker registry.
var JobsModule = fx.Module("benefitgrant.jobs",
	fx.Invoke(service.RegisterHandlers),
)

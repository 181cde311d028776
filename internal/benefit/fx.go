package benefit

import (
	"github.com/smallbiznis/railzway-benefits/internal/benefit/repository"
	"github.com/smallbiznis/railzway-benefits/internal/benefit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("benefit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

package webhook

import (
	"github.com/smallbiznis/railzway-benefits/internal/webhook/repository"
	"github.com/smallbiznis/railzway-benefits/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.outbox",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

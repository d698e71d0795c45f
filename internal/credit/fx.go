package credit

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/credit/service"
)

var Module = fx.Module("credit.service",
	fx.Provide(service.NewService),
)

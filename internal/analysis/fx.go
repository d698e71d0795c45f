package analysis

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/analysis/service"
)

var Module = fx.Module("analysis",
	fx.Provide(
		service.New,
	),
)

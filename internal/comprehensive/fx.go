package comprehensive

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/comprehensive/service"
)

var Module = fx.Module("comprehensive",
	fx.Provide(
		service.New,
	),
)

package evaluator

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/evaluator/gateway"
	"github.com/smallbiznis/autora/internal/evaluator/httpclient"
)

var Module = fx.Module("evaluator.gateway",
	fx.Provide(
		httpclient.New,
		gateway.New,
	),
)

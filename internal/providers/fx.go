package providers

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/providers/pdf"
)

var Module = fx.Module("providers",
	fx.Provide(
		pdf.New,
	),
)

package escrow

import (
	"github.com/smallbiznis/dealbridge/internal/escrow/domain"
	"github.com/smallbiznis/dealbridge/internal/escrow/razorpay"
	"go.uber.org/fx"
)

var Module = fx.Module("escrow.gateway",
	fx.Provide(func(g *razorpay.Gateway) domain.Gateway { return g }),
	fx.Provide(razorpay.New),
)

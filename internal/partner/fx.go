package partner

import (
	"go.uber.org/fx"

	"github.com/matinoplay/billing/internal/partner/client"
	"github.com/matinoplay/billing/internal/partner/crypto"
)

var Module = fx.Module("partner",
	fx.Provide(
		crypto.NewCodec,
		client.New,
	),
)

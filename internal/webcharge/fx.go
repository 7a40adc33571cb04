package webcharge

import (
	"go.uber.org/fx"

	"github.com/matinoplay/billing/internal/partner/client"
)

var Module = fx.Module("webcharge",
	fx.Provide(
		func(c *client.Client) Gateway { return c },
		NewService,
	),
)

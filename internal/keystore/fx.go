package keystore

import "go.uber.org/fx"

var Module = fx.Module("keystore",
	fx.Provide(NewStore),
)

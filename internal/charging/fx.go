package charging

import (
	"go.uber.org/fx"

	"github.com/matinoplay/billing/internal/charging/domain"
	"github.com/matinoplay/billing/internal/charging/repository"
	"github.com/matinoplay/billing/internal/charging/service"
)

var Module = fx.Module("charging",
	fx.Provide(
		repository.Provide,
		fx.Annotate(service.NewService, fx.As(new(domain.Service))),
	),
)

package usage

import (
	"github.com/usagelab/netpulse/internal/cache"
	"github.com/usagelab/netpulse/internal/usage/repository"
	"github.com/usagelab/netpulse/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	cache.Module,
	fx.Provide(repository.New),
	fx.Provide(service.New),
)

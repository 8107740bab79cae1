package ledger

import (
	"github.com/voxguard/voxguard/internal/ledger/repository"
	"github.com/voxguard/voxguard/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(
		repository.NewLedgerStore,
		service.NewService,
	),
)

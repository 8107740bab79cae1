package attest

import (
	redis "github.com/redis/go-redis/v9"
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/internal/attest/repository"
	"github.com/voxguard/voxguard/internal/attest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attest",
	fx.Provide(
		repository.NewKeyStore,
		newChallengeStore,
		service.NewService,
	),
)

func newChallengeStore(client *redis.Client) attestdomain.ChallengeStore {
	if client != nil {
		return repository.NewRedisChallengeStore(client)
	}
	return repository.NewMemoryChallengeStore()
}

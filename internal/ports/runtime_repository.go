package ports

import (
	"context"

	"github.com/bnema/botkeeper/internal/domain"
)

type RuntimeRepository interface {
	Load(ctx context.Context) (domain.RuntimeRecord, error)
	Save(ctx context.Context, record domain.RuntimeRecord) error
}

package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

// MetadataFetcher is the narrow external collaborator for the venue's
// off-chain market catalog. Implementations hit a REST API; the forensic
// pipeline only depends on this interface.
type MetadataFetcher interface {
	FetchByTokenID(ctx context.Context, tokenID common.Hash) (domain.Market, error)
	FetchByConditionID(ctx context.Context, conditionID common.Hash) (domain.Market, error)
}

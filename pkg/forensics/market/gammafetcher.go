package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/ferrors"
)

// GammaFetcher is the production MetadataFetcher: it hits Polymarket's
// public Gamma markets API to resolve a token-id or condition-id to its
// market metadata. The Registry never talks to resty directly — this is
// the only file in the package aware of the wire format.
type GammaFetcher struct {
	client  *resty.Client
	baseURL string
}

func NewGammaFetcher(baseURL string) *GammaFetcher {
	if baseURL == "" {
		baseURL = "https://gamma-api.polymarket.com"
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10_000_000_000). // 10s, expressed in ns to avoid a "time" import for one constant
		SetRetryCount(3)
	return &GammaFetcher{client: c, baseURL: baseURL}
}

type gammaMarket struct {
	ConditionID       string   `json:"conditionId"`
	QuestionID        string   `json:"questionID"`
	Question          string   `json:"question"`
	Slug              string   `json:"slug"`
	Oracle            string   `json:"oracle"`
	ClobTokenIDs      []string `json:"clobTokenIds"`
	Active            bool     `json:"active"`
	Closed            bool     `json:"closed"`
}

func (f *GammaFetcher) FetchByTokenID(ctx context.Context, tokenID common.Hash) (domain.Market, error) {
	var results []gammaMarket
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("clob_token_ids", tokenID.Hex()).
		SetResult(&results).
		Get("/markets")
	if err != nil {
		return domain.Market{}, ferrors.Wrap(ferrors.ErrUpstream, "gamma fetch by token", err)
	}
	if resp.IsError() {
		return domain.Market{}, ferrors.Wrap(ferrors.ErrUpstream, "gamma request", fmt.Errorf("status %d", resp.StatusCode()))
	}
	if len(results) == 0 {
		return domain.Market{}, ferrors.ErrNotFound
	}
	return toDomainMarket(results[0])
}

func (f *GammaFetcher) FetchByConditionID(ctx context.Context, conditionID common.Hash) (domain.Market, error) {
	var results []gammaMarket
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", conditionID.Hex()).
		SetResult(&results).
		Get("/markets")
	if err != nil {
		return domain.Market{}, ferrors.Wrap(ferrors.ErrUpstream, "gamma fetch by condition", err)
	}
	if resp.IsError() {
		return domain.Market{}, ferrors.Wrap(ferrors.ErrUpstream, "gamma request", fmt.Errorf("status %d", resp.StatusCode()))
	}
	if len(results) == 0 {
		return domain.Market{}, ferrors.ErrNotFound
	}
	return toDomainMarket(results[0])
}

func toDomainMarket(g gammaMarket) (domain.Market, error) {
	if len(g.ClobTokenIDs) != 2 {
		return domain.Market{}, fmt.Errorf("gamma market missing yes/no token pair: %w", ferrors.ErrDecode)
	}
	status := domain.StatusActive
	switch {
	case g.Closed:
		status = domain.StatusSettled
	case !g.Active:
		status = domain.StatusPaused
	}

	conditionID := common.HexToHash(g.ConditionID)
	yesTokenID := common.HexToHash(g.ClobTokenIDs[0])
	noTokenID := common.HexToHash(g.ClobTokenIDs[1])

	// Gamma is an off-chain catalog; cross-check its token ids against the
	// on-chain conditional-tokens derivation before trusting them. A
	// mismatch means either a stale cache entry or a malformed response —
	// either way the market is unsafe to resolve trades against.
	wantYes := DeriveOutcomeTokenID(USDCCollateral, conditionID, 1)
	wantNo := DeriveOutcomeTokenID(USDCCollateral, conditionID, 2)
	if wantYes != yesTokenID || wantNo != noTokenID {
		return domain.Market{}, ferrors.Wrap(ferrors.ErrDecode, "gamma token id derivation mismatch", fmt.Errorf("condition %s", g.ConditionID))
	}

	return domain.Market{
		ConditionID: conditionID,
		QuestionID:  common.HexToHash(g.QuestionID),
		Oracle:      common.HexToAddress(g.Oracle),
		YesTokenID:  yesTokenID,
		NoTokenID:   noTokenID,
		Slug:        g.Slug,
		Question:    g.Question,
		Status:      status,
	}, nil
}

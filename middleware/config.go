package middleware

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tollgate-labs/x402/facilitator"
	"github.com/tollgate-labs/x402/pricing"
	"github.com/tollgate-labs/x402/types"
)

const (
	// DefaultNetwork is used when a rule does not name one.
	DefaultNetwork = "base-sepolia"

	// DefaultMaxTimeoutSeconds is the advertised credential validity window.
	DefaultMaxTimeoutSeconds = 60

	// DefaultMaxBufferSize caps how much of a handler response is buffered
	// while settlement is pending.
	DefaultMaxBufferSize = 10 << 20 // 10 MiB
)

// RuleConfig declares one payment rule: which paths it gates, what they cost,
// and who gets paid.
type RuleConfig struct {
	// Price is the cost of one request: Money or TokenAmount.
	Price types.Price

	// PayTo is the payee address.
	PayTo string

	// Paths are the patterns selecting gated requests (see Match). Empty
	// means the rule gates every path.
	Paths []string

	// Network identifies the chain. Defaults to DefaultNetwork.
	Network string

	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	OutputSchema      map[string]any

	// Resource overrides the advertised resource URL. When empty the live
	// request URL is used.
	Resource string

	// Facilitator overrides the middleware-wide facilitator for this rule.
	Facilitator *facilitator.Config
}

// Config configures the payment middleware. The rule list is fixed at
// construction; there is no registration after that.
type Config struct {
	// Facilitator is the default facilitator for all rules.
	Facilitator facilitator.Config

	// Rules are evaluated in order; the first rule whose paths match a
	// request gates it.
	Rules []RuleConfig

	// MaxBufferSize caps the buffered handler response, in bytes.
	// Zero means DefaultMaxBufferSize; negative disables the cap.
	MaxBufferSize int
}

// rule is a RuleConfig resolved at construction time: price normalized,
// patterns compiled, facilitator client built. Immutable afterwards.
type rule struct {
	paths             []pathPattern
	network           string
	payTo             string
	description       string
	mimeType          string
	maxTimeoutSeconds int
	outputSchema      map[string]any
	resource          string
	price             *pricing.Normalized
	facilitator       *facilitator.Client
}

func compileRule(cfg RuleConfig, shared *facilitator.Client, index int) (*rule, error) {
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.MaxTimeoutSeconds == 0 {
		cfg.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"*"}
	}

	if !common.IsHexAddress(cfg.PayTo) {
		return nil, fmt.Errorf("rule %d: invalid pay-to address %q", index, cfg.PayTo)
	}

	normalized, err := pricing.Normalize(cfg.Price, cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", index, err)
	}

	paths, err := compilePatterns(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("rule %d: invalid path pattern: %w", index, err)
	}

	client := shared
	if cfg.Facilitator != nil {
		client, err = facilitator.NewClient(*cfg.Facilitator)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", index, err)
		}
	}

	return &rule{
		paths:             paths,
		network:           cfg.Network,
		payTo:             cfg.PayTo,
		description:       cfg.Description,
		mimeType:          cfg.MimeType,
		maxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		outputSchema:      cfg.OutputSchema,
		resource:          cfg.Resource,
		price:             normalized,
		facilitator:       client,
	}, nil
}

// requirements builds the advertised payment terms for one request. Rebuilt
// per request because the resource may be the live request URL.
func (r *rule) requirements(resourceURL string) types.PaymentRequirements {
	resource := r.resource
	if resource == "" {
		resource = resourceURL
	}

	// outputSchema and extra are always present on the wire, never null.
	outputSchema := r.outputSchema
	if outputSchema == nil {
		outputSchema = map[string]any{}
	}

	return types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           r.network,
		MaxAmountRequired: r.price.MaxAmountRequired,
		Resource:          resource,
		Description:       r.description,
		MimeType:          r.mimeType,
		OutputSchema:      outputSchema,
		PayTo:             r.payTo,
		MaxTimeoutSeconds: r.maxTimeoutSeconds,
		Asset:             r.price.Asset,
		Extra: map[string]any{
			"name":    r.price.Domain.Name,
			"version": r.price.Domain.Version,
		},
	}
}

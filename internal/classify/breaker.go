package classify

import (
	"context"

	"brokerops/pkg/circuitbreaker"
)

// BreakerClassifier shields the external model from hammering while it
// is failing. When the breaker is open, calls fail fast and the
// orchestrator's stage-failure path takes over.
type BreakerClassifier struct {
	inner   Classifier
	breaker *circuitbreaker.Wrapper
}

func NewBreakerClassifier(inner Classifier, breaker *circuitbreaker.Wrapper) *BreakerClassifier {
	return &BreakerClassifier{inner: inner, breaker: breaker}
}

func (c *BreakerClassifier) Classify(ctx context.Context, text string, bctx BatchContext) (*Result, error) {
	out, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.inner.Classify(ctx, text, bctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Result), nil
}

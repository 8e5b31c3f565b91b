// Package gin adapts ratelimit.Evaluator into a Gin middleware handler.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fastex/ratelimit"
)

// RateLimiter builds a Gin middleware handler that evaluates every policy
// in order against eval's backend, aborting the request at the first
// rejection. Policies typically share one Evaluator but carry distinct
// Times/Window/Prefix, letting a route stack e.g. a per-second burst
// policy ahead of a per-minute sustained policy.
//
// Example:
//
//	backend := local.New(local.Config{})
//	_ = backend.Connect(context.Background())
//	eval := ratelimit.NewEvaluator(backend, logger)
//	burst, _ := ratelimit.NewLimitPolicy(20, time.Second)
//	sustained, _ := ratelimit.NewLimitPolicy(100, time.Minute, ratelimit.WithRouteIndex(1))
//	router.Use(gin.RateLimiter(eval, burst, sustained))
func RateLimiter(eval *ratelimit.Evaluator, policies ...*ratelimit.LimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := ratelimit.RequestInfo{
			ClientIP: c.ClientIP(),
			Path:     c.FullPath(),
		}

		for _, policy := range policies {
			_, ok, err := eval.Evaluate(c.Request.Context(), policy, info, c.Writer)
			if err != nil {
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
			if !ok {
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

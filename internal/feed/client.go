// ABOUTME: Constructs the production SSRF-safe HTTP client for feed fetching.
// ABOUTME: Uses doyensec/safeurl with redirect following disabled.
package feed

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// BuildSafeClient returns an SSRF-safe *http.Client for fetching remote
// feeds. Redirect following is disabled; the per-fetch deadline is enforced
// by the refresher's context, with the client timeout as a backstop.
func BuildSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetCheckRedirect(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}).
		Build()
	return safeurl.Client(cfg).Client
}

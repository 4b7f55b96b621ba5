package smtp

import (
	"context"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// traceRoundTrip wraps fn in an X-Ray segment named name, the same
// tracing idiom inet/http_client.go uses via xray.Client(client) to wrap an
// *http.Client, generalized here from HTTP round trips to the connection
// driver's connect/write/close round trips.
//
// When ctx carries no X-Ray context (e.g. in unit tests, or when the caller
// never wired one in), xray.Capture still runs fn; it just doesn't export a
// segment anywhere, matching xray.Client's own graceful behavior outside of
// a Lambda/X-Ray-daemon environment.
func traceRoundTrip(ctx context.Context, name string, fn func(context.Context) error) error {
	return xray.Capture(ctx, name, fn)
}

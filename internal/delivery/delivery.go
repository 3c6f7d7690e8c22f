// Package delivery holds the entry points that expose the use cases.
package delivery

import "context"

// Delivery is a long-running server started by a binary after fx wiring.
type Delivery interface {
	Serve(ctx context.Context) error
}

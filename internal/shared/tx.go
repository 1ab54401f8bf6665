package shared

import "context"

// Transactor runs fn as one atomic unit of work. Implementations join an
// enclosing transaction carried by ctx instead of opening a second one.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(context.Context) error) error
}

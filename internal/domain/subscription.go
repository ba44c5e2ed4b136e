package domain

// Subscription is a cancellable registration on a push stream.
// Close is idempotent.
type Subscription interface {
	Close() error
}

package rpc

// DefaultMaxMessageSize is the default limit on the size of requests and replies.
const DefaultMaxMessageSize = 64 << 20

// Option configures Serve, ListenAndServe, NewClient, and Dial.
type Option func(*options)

type options struct {
	maxMessageSize int
}

// WithMaxMessageSize limits the size of requests and replies in both directions.
// A pull reply holds every file the client lacks,
// so the server and its clients need a limit large enough for the whole pool.
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		o.maxMessageSize = n
	}
}

func newOptions(opts []Option) options {
	o := options{maxMessageSize: DefaultMaxMessageSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

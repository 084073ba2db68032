package oidc

import "time"

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default
// options and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration for a Token.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokenOptions); ok {
			v.withExpirySkew = d
		}
	}
}

// WithNow provides an optional func to determine the current time, which
// is handy for tests.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokenOptions); ok {
			v.withNowFunc = now
		}
	}
}

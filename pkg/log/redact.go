package log

import "context"

type redactKey struct{}

// WithRedactedFrames marks ctx so that transports trace command APDUs sent
// under it with NewRedactedFrame.
func WithRedactedFrames(ctx context.Context) context.Context {
	return context.WithValue(ctx, redactKey{}, true)
}

// RedactFrames reports whether ctx was marked by WithRedactedFrames.
func RedactFrames(ctx context.Context) bool {
	v, _ := ctx.Value(redactKey{}).(bool)
	return v
}

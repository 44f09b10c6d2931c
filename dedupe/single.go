package dedupe

import (
	"golang.org/x/sync/singleflight"
)

// Signature identifies a read request for in-process deduplication. Two
// requests with the same method, path and scope identifier are assumed to
// produce the same response while one of them is in flight.
func Signature(method, path, scope string) string {
	return method + " " + path + " " + scope
}

// Flight collapses identical concurrent reads within one process: the first
// caller executes, the rest await and share its captured response. Purely an
// optimization; it gives no guarantee across instances.
//
// The zero value is ready to use.
type Flight struct {
	g singleflight.Group
}

// Do returns the response for key, executing fn only if no identical call is
// already in flight. shared reports whether the result was handed to more
// than one caller.
func (f *Flight) Do(key string, fn func() (*ResponseEnvelope, error)) (env *ResponseEnvelope, shared bool, err error) {
	v, err, shared := f.g.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*ResponseEnvelope), shared, nil
}

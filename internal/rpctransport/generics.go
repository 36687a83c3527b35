package rpctransport

import "context"

// RegisterUnary adapts fn — a (context.Context, Req) (Resp, error) method —
// into a Handler bound to method, gob-decoding the request and gob-encoding
// the response. app.go uses this once per internal/rpcservice operation
// instead of hand-writing ~69 near-identical decode/call/encode bodies.
func RegisterUnary[Req any, Resp any](r *Router, method string, fn func(context.Context, Req) (Resp, error)) {
	r.Register(method, func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := Decode(payload, &req); err != nil {
				return nil, err
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return Encode(resp)
	})
}

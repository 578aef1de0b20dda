package binder

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryServerInterceptor applies the HTTP middleware rules to gRPC calls.
// The tenant host comes from x-tenant-host (falling back to :authority), the
// hint from x-tenant-id and the session from authorization. Methods with one
// of the skip prefixes are not resolved.
func UnaryServerInterceptor(res Resolver, sessions SessionResolver, overrides OverrideLookup, skip ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		for _, prefix := range skip {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		md, _ := metadata.FromIncomingContext(ctx)
		host := firstValue(md, "x-tenant-host")
		if host == "" {
			host = firstValue(md, ":authority")
		}

		tc, err := res.Resolve(ctx, host, info.FullMethod)
		if err != nil {
			return nil, GRPCError(err)
		}
		if err := checkHint(tc, firstValue(md, "x-tenant-id")); err != nil {
			return nil, GRPCError(err)
		}
		ctx = WithTenant(ctx, tc)

		if token := bearerToken(firstValue(md, "authorization")); token != "" && sessions != nil {
			ctx, err = attachSession(ctx, token, sessions, overrides)
			if err != nil {
				return nil, GRPCError(err)
			}
		}
		return handler(ctx, req)
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

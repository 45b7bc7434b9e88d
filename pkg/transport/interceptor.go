package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// readOnlyMethods is the subset of envelope method names a read-only
// listener (a local socket for inspection tools, with no mTLS) may
// invoke. Every other method mutates replicated state and requires the
// fully authenticated peer listener.
var readOnlyMethods = map[string]bool{
	methodConnect:  true,
	methodQuery:    true,
	methodMetadata: true,
	methodVote:     false, // election/replication RPCs never reach a client listener
	methodPoll:     false,
}

// ReadOnlyInterceptor rejects every envelope method except the handful
// that only read state, for use on a listener that skips peer
// authentication (e.g. a loopback socket for local tooling).
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		env, ok := req.(*envelope)
		if !ok || !readOnlyMethods[env.Method] {
			return nil, status.Errorf(codes.PermissionDenied, "method %q is not permitted on a read-only listener", methodName(req))
		}
		return handler(ctx, req)
	}
}

func methodName(req any) string {
	if env, ok := req.(*envelope); ok {
		return env.Method
	}
	return "unknown"
}

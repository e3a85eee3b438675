package main

import "context"

func contextWithApp(ctx context.Context, ac *appContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, appContextKey{}, ac)
}

func appFromContext(ctx context.Context) (*appContext, bool) {
	if ctx == nil {
		return nil, false
	}
	ac, ok := ctx.Value(appContextKey{}).(*appContext)
	return ac, ok
}

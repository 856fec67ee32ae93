package handler

import (
	"context"

	"github.com/kataras/iris/v12"
	"go.uber.org/zap"
)

//Pinger is anything whose reachability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

//ok is a simple liveness check endpoint for the service
func Ok(ctx iris.Context) {

	ctx.JSON(map[string]string{"status": "ok"})
}

//Ready reports unavailable while the statistics store does not answer
func Ready(store Pinger) iris.Handler {
	return func(ctx iris.Context) {
		if err := store.Ping(ctx.Request().Context()); err != nil {
			zap.S().Warnf("readiness check failed: %s", err.Error())
			ctx.StatusCode(iris.StatusServiceUnavailable)
			ctx.JSON(map[string]string{"status": "unavailable"})
			return
		}
		ctx.JSON(map[string]string{"status": "ok"})
	}
}

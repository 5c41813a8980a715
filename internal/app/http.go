package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
)

// handler serves /metrics, /healthz and /readyz.
func (a *App) handler() fasthttp.RequestHandler {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/metrics":
			metrics(ctx)
		case "/healthz":
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString("{\"status\":\"ok\"}")
		case "/readyz":
			ctx.SetContentType("application/json")
			if !a.engine.Online() {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString("{\"status\":\"offline\"}")
				return
			}
			ver := a.version
			if ver == "" {
				ver = "dev"
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString("{\"status\":\"ok\",\"version\":\"" + ver + "\"}")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

// startHTTP starts the metrics server when an address is configured. The
// channel delivers a serve error.
func (a *App) startHTTP() <-chan error {
	errCh := make(chan error, 1)
	addr := a.eff.Config.Metrics.Addr
	if addr == "" {
		return errCh
	}
	const (
		readTimeout  = 10 * time.Second
		writeTimeout = 10 * time.Second
		idleTimeout  = 30 * time.Second
	)
	a.srvFast = &fasthttp.Server{
		Handler:      a.handler(),
		Name:         "chatsync",
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	go func() {
		logger.Info("metrics_listening", "addr", addr)
		errCh <- a.srvFast.ListenAndServe(addr)
	}()
	return errCh
}

package app

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/dr7ana/lokinet/pkg/lib/log"
)

var debugLogger = log.Logger("app/debug")

// debugAddr 本地调试服务默认监听地址，只绑定回环地址，不对外暴露。
const debugAddr = "127.0.0.1:6060"

// debugServer 承载 pprof 端点的本地 HTTP 服务，仅在 BuildOptions.EnablePprof
// 开启时启动。
type debugServer struct {
	server   *http.Server
	listener net.Listener
}

func startDebugServer() (*debugServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", debugAddr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			debugLogger.Warn("debug server stopped", "err", err)
		}
	}()

	debugLogger.Info("pprof debug server listening", "addr", debugAddr)
	return &debugServer{server: srv, listener: ln}, nil
}

func (d *debugServer) Stop(ctx context.Context) error {
	if d == nil || d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

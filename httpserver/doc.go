/*
Package httpserver runs the SoulBox vault API.

Server mounts the routes of a RouteRegistrar (api/vaulthandler in production)
behind the flashbots request logging middleware and adds the operational
endpoints:

  - GET /livez - always 200 while the process runs
  - GET /readyz - 503 while draining or while the ReadinessChecker fails
  - GET /drain - mark the server not ready ahead of a shutdown
  - GET /undrain - revert a drain
  - /debug/pprof - only with EnablePprof

Prometheus metrics are served on a separate listener at MetricsAddr.

# Lifecycle

	srv := httpserver.New(cfg, handler, svc, m)
	srv.RunInBackground()
	<-ctx.Done()
	srv.Shutdown()
*/
package httpserver

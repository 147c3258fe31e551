// Package httpserver provides the HTTP server shared by the privacy
// subsystem daemons.
//
// BaseServer mounts the routes of any number of RouteRegistrar
// implementations next to a fixed set of operational endpoints:
//
//   - /livez reports that the process is up
//   - /readyz reports whether the server accepts traffic
//   - /drain and /undrain toggle readiness ahead of a shutdown
//   - /debug/pprof when EnablePprof is set
//
// Registered routes are logged through httplogger and, when RateLimit is
// set, limited per client address. CORS is applied to the whole router when
// CORSOrigins is non-empty. Metrics are served on MetricsAddr by a separate
// listener.
//
//	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
//	    ListenAddr:  ":8080",
//	    MetricsAddr: ":8090",
//	    Log:         log,
//	}, api)
//	if err != nil {
//	    return err
//	}
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver

// Package server wraps http.Server with graceful shutdown, configuration from
// the environment and errgroup-friendly lifecycle helpers.
//
//	srv, err := server.NewFromConfig(cfg,
//		server.WithLogger(log),
//		server.WithShutdownHook(wsHandler.Shutdown),
//	)
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, router))
//	return g.Wait()
//
// Stop first shuts the HTTP server down (closing the listener and idle
// connections and waiting for in-flight requests), then runs shutdown hooks
// with the remaining deadline. Websocket connections are hijacked and
// therefore invisible to http.Server; register their handler's Shutdown
// as a hook so they close through the normal disconnect path.
package server

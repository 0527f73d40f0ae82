// Package server runs an http.Server with graceful shutdown and an errgroup
// friendly Run method.
//
//	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, router))
//	return g.Wait()
//
// Configuration comes from SERVER_* variables (see Config). TLS is served
// when SERVER_TLS_CERT_FILE and SERVER_TLS_KEY_FILE are both set.
package server

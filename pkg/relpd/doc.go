// Package relpd provides an embeddable RELP listener.
//
// The listener accepts RELP connections (plain TCP or TLS), acknowledges
// every frame synchronously, and accumulates accepted syslog events into
// per-connection batches. A consumer polls Drain to collect finalized
// batches together with their provenance metadata (sender, port,
// transport scheme).
//
// Example usage:
//
//	cfg := relpd.DefaultConfig()
//	cfg.ListenAddr = "0.0.0.0:5170"
//	srv, err := relpd.New(cfg, relpd.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop()
//
//	for _, batch := range srv.Drain(16) {
//	    fmt.Println(batch.TransitURI(), batch.Size())
//	}
package relpd

// Package esgbridge provides the integration core of an ESG reporting
// platform: outbound webhook delivery and inbound sync reconciliation.
//
// ESGBridge is a library, not a service. Import it into your application
// to get webhook subscriptions with a verification handshake and signed
// deliveries, retry with exponential backoff, a canonical schema registry
// with per-connector field mappings, and a reconciliation engine that
// protects human-approved data from silent overwrite.
//
// Key features:
//   - Subscription lifecycle with automatic degradation on repeated failure
//   - HMAC-SHA256 signatures on every delivery and handshake
//   - Sweep-driven dispatcher with per-subscription rate limiting
//   - Versioned canonical schemas with backward compatibility chains
//   - Append-only sync records auditing every reconciliation outcome
//   - Composable store pattern with Postgres, Redis and in-memory backends
//
// Quick start:
//
//	b, err := esgbridge.New(
//	    esgbridge.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b.Start(ctx)
//
//	b.Publish(ctx, &event.Event{
//	    Type: event.TypeDataChanged,
//	    Data: map[string]any{"facility_id": "fac_01h..."},
//	})
package esgbridge

// Package client is the Go SDK for the Shiftward integrity service. It
// fetches time-clock chains, chain verification reports, signing keys,
// and sealed audit manifests over the service's HTTP API.
//
// The types in this package mirror the service's wire format, so external
// tools and auditors can depend on the SDK without importing service
// internals. Retired signing keys never change, which makes key responses
// safe to cache; enable this with WithKeyCacheTTL.
//
//	c, err := client.New("https://integrity.shiftward.example",
//	    client.WithKeyCacheTTL(10*time.Minute),
//	)
package client

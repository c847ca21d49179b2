// Package bundle loads the type metadata bundles a client needs before it
// can instantiate connectors.
//
// Every bundle moves through NOT_STARTED → LOADING → LOADED or ERROR and
// never leaves LOADED or ERROR. At most one fetch runs per bundle; callers
// that ask for a bundle while it is loading are queued and notified in the
// order they asked. A Loader belongs to one client session.
//
// Payloads come from a Source. FSSource reads a directory through afero,
// S3Source reads objects from a bucket, HTTPSource fetches from a server's
// bundle endpoint and CachedSource keeps recent payloads in an LRU cache.
package bundle

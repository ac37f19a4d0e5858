// Package crawler holds the domain types, collaborator interfaces and shared
// policies of the arrêtés crawler. Concrete fetchers, stores and exporters
// live in their own packages and depend on this one, never the reverse.
package crawler

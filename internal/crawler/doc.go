// Package crawler defines the types, interfaces, and error taxonomy shared by
// the incremental crawl pipeline: listings yield locators, the existence oracle
// filters them, fetchers and extractors turn them into records, and the ingest
// writer persists records alongside the locator ledger.
package crawler

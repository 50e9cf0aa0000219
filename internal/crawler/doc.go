// Package crawler implements the tracker crawl loop: listing pagination,
// detail and torrent fetches, the seen-link stop heuristic, and hand-off of
// decoded records to the record store, blob store, audit log and publisher.
package crawler

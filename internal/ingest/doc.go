// package ingest converts raw listening events into canonical play records.
//
// Two raw shapes feed one normalization function: ExportRecord rows from a
// bulk history export file and RecentlyPlayedItem entries from the player
// API. Normalize resolves timestamps, track identity, and artist structure;
// it never touches storage. Enrichment (genres, artwork) is a separate
// best-effort lookup that callers may layer on top.
package ingest

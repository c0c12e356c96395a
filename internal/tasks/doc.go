// package tasks implements the ingestion operations over listening history.
//
// The core abstractions are Importer, which drives the import-job state
// machine over a stored raw batch, and Poller/Fleet, which pull the
// recently-played feed for one user or the whole tracked population.
// Operations emit progress updates via channels for non-blocking status
// reporting to CLI/server layers.
package tasks

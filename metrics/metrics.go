// Package metrics holds the Prometheus collectors of the document store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docstore", Name: "ingested_bytes_total", Help: "Bytes of document content ingested, by ingestion path."},
		[]string{"path"},
	)
	VersionsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docstore", Name: "versions_written_total", Help: "Complete document versions written, by ingestion path."},
		[]string{"path"},
	)
	PrunedRows = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "docstore", Name: "pruned_chunk_rows_total", Help: "Chunk rows deleted by retention."},
	)
	ContentReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docstore", Name: "content_reads_total", Help: "Document content reads, by how they were served."},
		[]string{"source"},
	)
	LiveActors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "docstore", Name: "live_actors", Help: "Actors with open storage, by kind."},
		[]string{"kind"},
	)
)

// Values of the path label.
const (
	Buffered  = "buffered"
	Streaming = "streaming"
)

// Values of the source label.
const (
	Cache    = "cache"
	Memory   = "memory"
	Streamed = "streamed"
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(IngestedBytes)
	reg.MustRegister(VersionsWritten)
	reg.MustRegister(PrunedRows)
	reg.MustRegister(ContentReads)
	reg.MustRegister(LiveActors)
}

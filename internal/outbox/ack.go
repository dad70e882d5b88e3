package outbox

import (
	"path/filepath"
	"sync"

	"github.com/clawtown/clawtown/internal/util"
)

// AckRecord is a single delivery attempt outcome, keyed by message filename.
// Adapted from the teacher's two-phase delivery-ack idiom in
// internal/mail/delivery.go, with the storage swapped from bd labels to a
// local JSON sidecar since there is no issue tracker to label here.
type AckRecord struct {
	MsgFilename    string  `json:"msg_filename"`
	Source         string  `json:"source"`
	Target         string  `json:"target"`
	Priority       int     `json:"priority"`
	DeliveredAt    string  `json:"delivered_at,omitempty"`
	LatencySeconds float64 `json:"latency_seconds,omitempty"`
	Failed         bool    `json:"failed"`
	Reason         string  `json:"reason,omitempty"`
	ContentPreview string  `json:"content_preview,omitempty"`
}

type ackDoc struct {
	Records []AckRecord `json:"records"`
}

// AckStore is a small ring of recent delivery outcomes, persisted to a
// sidecar file inside the outbox directory.
type AckStore struct {
	mu       sync.Mutex
	path     string
	maxItems int
}

// NewAckStore returns an AckStore backed by <stateDir>/outbox/.acks.json.
func NewAckStore(stateDir string) *AckStore {
	return &AckStore{
		path:     filepath.Join(stateDir, "outbox", ".acks.json"),
		maxItems: 200,
	}
}

func (a *AckStore) load() ackDoc {
	var doc ackDoc
	_ = util.ReadJSON(a.path, &doc)
	return doc
}

func (a *AckStore) append(rec AckRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc := a.load()
	doc.Records = append(doc.Records, rec)
	if len(doc.Records) > a.maxItems {
		doc.Records = doc.Records[len(doc.Records)-a.maxItems:]
	}
	return util.WriteJSONAtomic(a.path, doc, 0o644)
}

// RecordDelivery records a successful delivery with its end-to-end latency.
func (a *AckStore) RecordDelivery(msgFilename, source, target string, priority int, latencySeconds float64, contentPreview string) error {
	return a.append(AckRecord{
		MsgFilename:    msgFilename,
		Source:         source,
		Target:         target,
		Priority:       priority,
		LatencySeconds: latencySeconds,
		ContentPreview: contentPreview,
	})
}

// RecordFailure records a failed or expired delivery attempt with a reason.
func (a *AckStore) RecordFailure(msgFilename, source, target, reason string) error {
	return a.append(AckRecord{
		MsgFilename: msgFilename,
		Source:      source,
		Target:      target,
		Failed:      true,
		Reason:      reason,
	})
}

// AckStats is the aggregate view exposed alongside outbox.Status.
type AckStats struct {
	TotalDelivered int         `json:"total_delivered"`
	TotalFailed    int         `json:"total_failed"`
	AvgLatency     float64     `json:"avg_latency"`
	Recent         []AckRecord `json:"recent"`
}

// Stats computes the aggregate delivery/failure counts and recent history.
func (a *AckStore) Stats(recentLimit int) AckStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc := a.load()
	var stats AckStats
	var latencySum float64
	for _, r := range doc.Records {
		if r.Failed {
			stats.TotalFailed++
		} else {
			stats.TotalDelivered++
			latencySum += r.LatencySeconds
		}
	}
	if stats.TotalDelivered > 0 {
		stats.AvgLatency = latencySum / float64(stats.TotalDelivered)
	}
	start := len(doc.Records) - recentLimit
	if start < 0 {
		start = 0
	}
	stats.Recent = doc.Records[start:]
	return stats
}

package dashboard

import (
	"context"
	"log"
	"time"

	"github.com/bookreader/chaptersync/internal/reconcile"
	chsync "github.com/bookreader/chaptersync/internal/sync"
)

// ChapterUpdateData describes the handling of one file.
type ChapterUpdateData struct {
	RunID    string `json:"run_id"`
	Book     string `json:"book"`
	FileName string `json:"file_name"`
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Change   string `json:"change,omitempty"`
	DryRun   bool   `json:"dry_run"`
	Error    string `json:"error,omitempty"`
}

// SyncCompleteData summarizes a directory run.
type SyncCompleteData struct {
	RunID       string        `json:"run_id"`
	Book        string        `json:"book"`
	Author      string        `json:"author"`
	DryRun      bool          `json:"dry_run"`
	NothingToDo bool          `json:"nothing_to_do"`
	Transferred int           `json:"transferred"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Duration    time.Duration `json:"duration"`
}

// ReconcileCompleteData summarizes a reconcile run.
type ReconcileCompleteData struct {
	RunID    string        `json:"run_id"`
	Checked  int           `json:"checked"`
	Updated  int           `json:"updated"`
	Finished int           `json:"finished"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Handler turns sync and reconcile events into dashboard messages.
type Handler struct {
	server *Server
	stats  StatsFunc
	logger *log.Logger
}

var _ chsync.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// When stats is set, a stats message follows every completed run.
func NewHandler(server *Server, stats StatsFunc, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, stats: stats, logger: logger}
}

// OnAction implements sync.Observer.
func (h *Handler) OnAction(report *chsync.Report, action chsync.Action) {
	data := ChapterUpdateData{
		RunID:    report.RunID,
		Book:     report.Title,
		FileName: action.FileName,
		Decision: string(action.Decision),
		Reason:   action.Reason,
		DryRun:   report.DryRun,
		Error:    action.Error,
	}
	if action.Cataloged {
		data.Change = action.Change.String()
	}
	h.server.BroadcastData(MessageTypeChapterUpdate, data)
}

// OnReport implements sync.Observer.
func (h *Handler) OnReport(report *chsync.Report) {
	h.logger.Printf("Sync complete: %s", report.Summary())

	h.server.BroadcastData(MessageTypeSyncComplete, SyncCompleteData{
		RunID:       report.RunID,
		Book:        report.Title,
		Author:      report.Author,
		DryRun:      report.DryRun,
		NothingToDo: report.NothingToDo,
		Transferred: report.Transferred,
		Skipped:     report.Skipped,
		Failed:      report.Failed,
		Created:     report.Created,
		Updated:     report.Updated,
		Duration:    report.FinishedAt.Sub(report.StartedAt),
	})
	h.broadcastStats()
}

// OnReconcileItem forwards a reconciled chapter.
func (h *Handler) OnReconcileItem(item reconcile.Item) {
	h.server.BroadcastData(MessageTypeReconcileItem, item)
}

// OnReconcileReport forwards the end of a reconcile run.
func (h *Handler) OnReconcileReport(report *reconcile.Report) {
	h.logger.Printf("Reconcile complete: %s", report.Summary())

	h.server.BroadcastData(MessageTypeReconcileComplete, ReconcileCompleteData{
		RunID:    report.RunID,
		Checked:  report.Checked,
		Updated:  report.Updated,
		Finished: report.Finished,
		Failed:   report.Failed,
		Duration: report.FinishedAt.Sub(report.StartedAt),
	})
	h.broadcastStats()
}

func (h *Handler) broadcastStats() {
	if h.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := h.stats(ctx)
	if err != nil {
		h.logger.Printf("Failed to compute stats: %v", err)
		return
	}
	h.server.BroadcastData(MessageTypeStats, stats)
}

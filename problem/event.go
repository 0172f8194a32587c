package problem

// EventType names what an Event carries.
type EventType string

const (
	// EventProblemInfo carries a fresh Snapshot in Data.
	EventProblemInfo EventType = "problemInfo"
	// EventProblemCleared means the page left the problem; Data is nil.
	EventProblemCleared EventType = "problemCleared"
)

// Event is the one-way notification handed to sinks.
type Event struct {
	Type      EventType `json:"type"`
	PageID    string    `json:"page_id"`
	URL       string    `json:"url,omitempty"`
	Data      *Snapshot `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"` // epoch milliseconds
}

// Info wraps a snapshot in a problemInfo event.
func Info(snap *Snapshot) Event {
	return Event{
		Type:      EventProblemInfo,
		PageID:    snap.PageID,
		URL:       snap.URL,
		Data:      snap,
		Timestamp: snap.CapturedAt,
	}
}

// Cleared builds a problemCleared event for a page that navigated to url.
func Cleared(pageID, url string, at int64) Event {
	return Event{
		Type:      EventProblemCleared,
		PageID:    pageID,
		URL:       url,
		Timestamp: at,
	}
}

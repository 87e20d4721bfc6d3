package types

import (
	"strings"
	"time"
)

// UDNPrefix marks a unique device name in preference values and discovery data.
const UDNPrefix = "uuid:"

// Content classes understood by the federation layer.
const (
	ClassRecording = "object.item.videoItem.recording"
	ClassSchedule  = "object.item.epgItem.schedule"
)

// Well-known metadata keys carried on content objects.
const (
	MetaEventID   = "eventId"
	MetaSeriesID  = "seriesId"
	MetaServiceID = "serviceId"
	MetaStart     = "start"
	MetaDuration  = "duration"
	MetaBookmark  = "bookmark"
	MetaKind      = "kind"
)

// ContentObject is a raw entry of a peer's content directory.
type ContentObject struct {
	ID       string
	ParentID string
	Class    string
	Title    string
	UIFolder string
	Metadata map[string]string
}

// Recording is a completed or in-progress recording held by a peer.
type Recording struct {
	ID        string
	UDN       string
	Title     string
	UIFolder  string
	EventID   string
	SeriesID  string
	ServiceID string
	Start     time.Time
	Duration  time.Duration
	Bookmark  time.Duration
	Metadata  map[string]string
}

// Schedule is a pending recording booked on a peer.
type Schedule struct {
	ID        string
	UDN       string
	Title     string
	EventID   string
	SeriesID  string
	ServiceID string
	Start     time.Time
	Duration  time.Duration
	Metadata  map[string]string
}

type TaskKind int

const (
	TaskRecording TaskKind = iota
	TaskSchedule
)

func (k TaskKind) String() string {
	switch k {
	case TaskRecording:
		return "recording"
	case TaskSchedule:
		return "schedule"
	default:
		return "unknown"
	}
}

// Task addresses a recording or schedule on a specific peer.
type Task struct {
	ObjectID string
	UDN      string
	Title    string
	EventID  string
	Kind     TaskKind
}

// EventRef identifies a broadcast event from the programme guide.
type EventRef struct {
	EventID   string
	ServiceID string
	Start     time.Time
}

// RecordingMetadata is passed through to the peer untouched.
type RecordingMetadata map[string]string

// SearchQuery is a content-directory search sent to every peer.
type SearchQuery struct {
	Criteria   string
	Properties []string
	Sort       string
	ExactMatch bool
}

// ActorsDirectorQuery builds a search over cast and director fields.
func ActorsDirectorQuery(name string, exact bool, properties []string, sort string) SearchQuery {
	op := "contains"
	if exact {
		op = "="
	}
	escaped := strings.ReplaceAll(name, `"`, `\"`)
	return SearchQuery{
		Criteria:   `upnp:actor ` + op + ` "` + escaped + `" or upnp:director ` + op + ` "` + escaped + `"`,
		Properties: properties,
		Sort:       sort,
		ExactMatch: exact,
	}
}

// Matches reports whether a schedule or recording belongs to the guide
// event. The event ID wins when set; otherwise service and start time must match.
func (e EventRef) Matches(eventID, serviceID string, start time.Time) bool {
	if e.EventID != "" {
		return e.EventID == eventID
	}
	return e.ServiceID != "" && e.ServiceID == serviceID && e.Start.Equal(start)
}

// RecordingFromObject converts a content object of class ClassRecording.
func RecordingFromObject(udn string, obj ContentObject) Recording {
	r := Recording{
		ID:        obj.ID,
		UDN:       udn,
		Title:     obj.Title,
		UIFolder:  obj.UIFolder,
		EventID:   obj.Metadata[MetaEventID],
		SeriesID:  obj.Metadata[MetaSeriesID],
		ServiceID: obj.Metadata[MetaServiceID],
		Start:     parseTime(obj.Metadata[MetaStart]),
		Duration:  parseDuration(obj.Metadata[MetaDuration]),
		Bookmark:  parseDuration(obj.Metadata[MetaBookmark]),
		Metadata:  copyMeta(obj.Metadata),
	}
	return r
}

// ScheduleFromObject converts a content object of class ClassSchedule.
func ScheduleFromObject(udn string, obj ContentObject) Schedule {
	return Schedule{
		ID:        obj.ID,
		UDN:       udn,
		Title:     obj.Title,
		EventID:   obj.Metadata[MetaEventID],
		SeriesID:  obj.Metadata[MetaSeriesID],
		ServiceID: obj.Metadata[MetaServiceID],
		Start:     parseTime(obj.Metadata[MetaStart]),
		Duration:  parseDuration(obj.Metadata[MetaDuration]),
		Metadata:  copyMeta(obj.Metadata),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

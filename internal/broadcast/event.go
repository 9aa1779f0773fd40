package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/minidb/internal/store"
)

// Kind distinguishes event types.
type Kind string

const (
	// KindUpdate carries the new value of one key.
	KindUpdate Kind = "update"
	// KindDelete names one removed key.
	KindDelete Kind = "delete"
	// KindUpdateMany signals a bulk change; receivers must refetch.
	KindUpdateMany Kind = "update_many"
	// KindMigrationCompleted signals that the stored schema moved to Version.
	KindMigrationCompleted Kind = "migration_completed"
)

// Event is one change notification.
type Event struct {
	Kind    Kind            `json:"kind"`
	Key     string          `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Version int             `json:"version,omitempty"`

	// Origin is the publishing channel, Process its hub. Both are stamped
	// by Publish.
	Origin  string `json:"origin,omitempty"`
	Process string `json:"process,omitempty"`
}

// Update builds an update event.
func Update(key string, value json.RawMessage) Event {
	return Event{Kind: KindUpdate, Key: key, Value: value}
}

// Delete builds a delete event.
func Delete(key string) Event {
	return Event{Kind: KindDelete, Key: key}
}

// UpdateMany builds a bulk-change event.
func UpdateMany() Event {
	return Event{Kind: KindUpdateMany}
}

// MigrationCompleted builds a migration event for version.
func MigrationCompleted(version int) Event {
	return Event{Kind: KindMigrationCompleted, Version: version}
}

// Validate checks that the event carries the fields its kind needs.
func (e Event) Validate() error {
	switch e.Kind {
	case KindUpdate:
		if e.Key == "" {
			return fmt.Errorf("%s event without key", e.Kind)
		}
		if len(e.Value) == 0 {
			return fmt.Errorf("%s event for %q without value", e.Kind, e.Key)
		}
	case KindDelete:
		if e.Key == "" {
			return fmt.Errorf("%s event without key", e.Kind)
		}
	case KindUpdateMany, KindMigrationCompleted:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

func (e Event) record() store.EventRecord {
	return store.EventRecord{
		Process: e.Process,
		Origin:  e.Origin,
		Kind:    string(e.Kind),
		Key:     e.Key,
		Value:   e.Value,
		Version: e.Version,
	}
}

func eventFromRecord(r store.EventRecord) Event {
	return Event{
		Kind:    Kind(r.Kind),
		Key:     r.Key,
		Value:   json.RawMessage(r.Value),
		Version: r.Version,
		Origin:  r.Origin,
		Process: r.Process,
	}
}

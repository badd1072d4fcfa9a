package topology

import (
	"sort"
	"strings"
)

// ParameterEntry publishes a value under a path key once its producer is
// realized.
type ParameterEntry struct {
	entityBase
	value *Deferred[string]
}

// Publish registers key for value. Keys are paths starting with "/" and are
// unique within a topology. A deferred value makes the entry depend on the
// entity that produces it.
func Publish(b *TopologyBuilder, key string, value *Deferred[string]) (*ParameterEntry, error) {
	entity := StepID(KindParameter, key)
	if err := b.checkOpen(entity); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, configErrorf(string(KindParameter), "key", "must not be empty")
	}
	if !strings.HasPrefix(key, "/") {
		return nil, configErrorf(entity, "key", "must be a path starting with /")
	}
	if value == nil {
		return nil, configErrorf(entity, "value", "is required")
	}
	if source := value.Source(); source != "" {
		if _, ok := b.Entity(source); !ok {
			return nil, configErrorf(entity, "value", "producer %s is not declared in topology %q", source, b.name)
		}
	}

	entry := &ParameterEntry{
		entityBase: entityBase{id: b.nextID(), kind: KindParameter, name: key},
		value:      value,
	}
	if err := b.register(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ParameterKey returns the path key.
func (p *ParameterEntry) ParameterKey() string { return p.name }

// Value returns the deferred value.
func (p *ParameterEntry) Value() *Deferred[string] { return p.value }

func (p *ParameterEntry) dependencies() []string {
	if source := p.value.Source(); source != "" {
		return []string{source}
	}
	return nil
}

func (p *ParameterEntry) attributes() map[string]string {
	attrs := map[string]string{
		"key":  p.name,
		"type": "String",
	}
	if source := p.value.Source(); source != "" {
		attrs["value_from"] = source
	} else if v, ok := p.value.Get(); ok {
		attrs["value"] = v
	}
	return attrs
}

// ParameterView is a read-only snapshot of one entry.
type ParameterView struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Resolved bool   `json:"resolved"`
	Source   string `json:"source,omitempty"`
}

// ParameterStore is the path-keyed read interface over published entries.
type ParameterStore struct {
	entries []*ParameterEntry
}

// Lookup returns the value for key once it has been resolved.
func (s *ParameterStore) Lookup(key string) (string, bool) {
	for _, entry := range s.entries {
		if entry.name == key {
			return entry.value.Get()
		}
	}
	return "", false
}

// Entry returns the entry for key.
func (s *ParameterStore) Entry(key string) (*ParameterEntry, bool) {
	for _, entry := range s.entries {
		if entry.name == key {
			return entry, true
		}
	}
	return nil, false
}

// Entries returns a snapshot of every entry sorted by key.
func (s *ParameterStore) Entries() []ParameterView {
	views := make([]ParameterView, 0, len(s.entries))
	for _, entry := range s.entries {
		value, resolved := entry.value.Get()
		views = append(views, ParameterView{
			Key:      entry.name,
			Value:    value,
			Resolved: resolved,
			Source:   entry.value.Source(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views
}

// Len returns the number of entries.
func (s *ParameterStore) Len() int {
	return len(s.entries)
}

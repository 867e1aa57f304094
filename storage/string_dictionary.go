package storage

import (
	"sync"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// StringDictionary assigns dense int32 codes to strings for a
// dictionary-encoded column. Codes are never reused or reassigned.
type StringDictionary struct {
	mu      sync.RWMutex
	oid     common.ObjectID
	codes   map[string]int32
	strings []string
}

func NewStringDictionary(oid common.ObjectID) *StringDictionary {
	return &StringDictionary{
		oid:   oid,
		codes: make(map[string]int32),
	}
}

func (d *StringDictionary) Oid() common.ObjectID {
	return d.oid
}

// GetOrAdd returns the code of s, assigning the next code if s is new.
func (d *StringDictionary) GetOrAdd(s string) int32 {
	d.mu.RLock()
	code, ok := d.codes[s]
	d.mu.RUnlock()
	if ok {
		return code
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// Another writer may have added it between the locks
	if code, ok = d.codes[s]; ok {
		return code
	}
	code = int32(len(d.strings))
	d.codes[s] = code
	d.strings = append(d.strings, s)
	return code
}

// GetID returns the code of s, if present.
func (d *StringDictionary) GetID(s string) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	code, ok := d.codes[s]
	return code, ok
}

// GetString returns the string for code, if present.
func (d *StringDictionary) GetString(code int32) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if code < 0 || int(code) >= len(d.strings) {
		return "", false
	}
	return d.strings[code], true
}

// Size returns the number of codes assigned so far.
func (d *StringDictionary) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.strings)
}

// DictionaryRegistry owns the string dictionaries of the engine.
type DictionaryRegistry struct {
	dicts *xsync.MapOf[common.ObjectID, *StringDictionary]
}

func NewDictionaryRegistry() *DictionaryRegistry {
	return &DictionaryRegistry{
		dicts: xsync.NewMapOf[common.ObjectID, *StringDictionary](),
	}
}

// Create registers a new empty dictionary.
func (r *DictionaryRegistry) Create(oid common.ObjectID) (*StringDictionary, error) {
	dict, loaded := r.dicts.LoadOrStore(oid, NewStringDictionary(oid))
	if loaded {
		return nil, common.NewJoinError(common.DuplicateObjectError, "dictionary %d already exists", oid)
	}
	return dict, nil
}

// Get returns the dictionary registered under oid.
func (r *DictionaryRegistry) Get(oid common.ObjectID) (*StringDictionary, error) {
	dict, ok := r.dicts.Load(oid)
	if !ok {
		return nil, common.NewJoinError(common.NoSuchObjectError, "dictionary %d does not exist", oid)
	}
	return dict, nil
}

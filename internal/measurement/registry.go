package measurement

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// ScriptInfo describes a registered measurement script.
type ScriptInfo struct {
	// Folder groups related scripts, for example "nv".
	Folder string
	// Name selects the script within its folder.
	Name string
	// File is the base name of the script's Go source file.
	File string
	// Source is the script's source text, stored in every record.
	Source string
	// New constructs a fresh script instance.
	New func() Script
}

// Key is the "folder/name" identifier the script is selected by.
func (i ScriptInfo) Key() string {
	return path.Join(i.Folder, i.Name)
}

// Path is the script's source path as shown in reports and records.
func (i ScriptInfo) Path() string {
	return path.Join("scripts", i.Folder, i.File)
}

func (i ScriptInfo) lines() []string {
	if i.Source == "" {
		return nil
	}
	return strings.Split(i.Source, "\n")
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ScriptInfo)
)

// Register makes a script available by its key. It panics if the key is
// taken or the info has no constructor, as it is called from init.
func Register(info ScriptInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if info.New == nil {
		panic(fmt.Sprintf("measurement: Register %q without constructor", info.Key()))
	}
	if info.Folder == "" || info.Name == "" {
		panic(fmt.Sprintf("measurement: Register needs folder and name, got %q", info.Key()))
	}
	if _, dup := registry[info.Key()]; dup {
		panic(fmt.Sprintf("measurement: Register called twice for %q", info.Key()))
	}
	registry[info.Key()] = info
}

// Lookup returns the script registered under key ("folder/name").
func Lookup(key string) (ScriptInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Scripts returns every registered script sorted by key.
func Scripts() []ScriptInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]ScriptInfo, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Package profiles stores the relay connection profiles of a control window.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/samber/lo"
	"github.com/tomaslejdung/goflash/pkg/settings"
)

// File layout
const (
	FileName     = "servers.json"
	StoreKey     = "server_list"
	BackupSuffix = ".bak"
)

var (
	// ErrIndexOutOfRange is returned for Update and Remove with a bad index
	ErrIndexOutOfRange = errors.New("profile index out of range")
	// ErrNotLoaded is returned for mutations before Load resolved
	ErrNotLoaded = errors.New("profiles not loaded")
)

// Profile is one saved relay
type Profile struct {
	ServerName   string `json:"serverName"`
	RelayAddress string `json:"socketUrl"`
	Username     string `json:"username"`
	APIKey       string `json:"apiKey"`
}

// Validate reports the first missing field
func (p Profile) Validate() error {
	switch {
	case strings.TrimSpace(p.ServerName) == "":
		return errors.New("server name is required")
	case strings.TrimSpace(p.RelayAddress) == "":
		return errors.New("relay address is required")
	case strings.TrimSpace(p.Username) == "":
		return errors.New("username is required")
	}
	return nil
}

// Title is how a profile is listed
func (p Profile) Title() string {
	if p.ServerName != "" {
		return p.ServerName
	}
	return p.RelayAddress
}

// List is the ordered set of saved profiles. Every mutation after Load is
// written through, including one that empties the list; nothing is written
// before Load.
type List struct {
	path string

	mu       sync.Mutex
	profiles []Profile
	loaded   bool
}

// DefaultPath is servers.json in the goflash config dir
func DefaultPath() (string, error) {
	dir, err := settings.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// NewList creates an unloaded list backed by path
func NewList(path string) *List {
	return &List{path: path}
}

// Load reads the file. A missing or unreadable file yields an empty list;
// the error is returned for the caller to report but the list still counts
// as loaded. A file that does not decode is copied aside first.
func (l *List) Load() ([]Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loaded = true
	l.profiles = nil

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	var doc map[string][]Profile
	if err := sonic.Unmarshal(data, &doc); err != nil {
		// Keep the unreadable bytes; the next save replaces the file
		if berr := os.WriteFile(l.path+BackupSuffix, data, 0600); berr != nil {
			return nil, fmt.Errorf("load profiles: %w (backup failed: %v)", err, berr)
		}
		return nil, fmt.Errorf("load profiles: %w (saved a copy to %s)", err, l.path+BackupSuffix)
	}
	l.profiles = doc[StoreKey]
	return l.snapshot(), nil
}

// Loaded reports whether Load has run
func (l *List) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// All returns a copy of the profiles
func (l *List) All() []Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Get returns the profile at index
func (l *List) Get(index int) (Profile, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.profiles) {
		return Profile{}, false
	}
	return l.profiles[index], true
}

// Len is the number of profiles
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.profiles)
}

// Add appends a profile
func (l *List) Add(p Profile) error {
	return l.mutate(func(ps []Profile) ([]Profile, error) {
		return append(ps, p), nil
	})
}

// Update replaces the profile at index
func (l *List) Update(index int, p Profile) error {
	return l.mutate(func(ps []Profile) ([]Profile, error) {
		if index < 0 || index >= len(ps) {
			return nil, ErrIndexOutOfRange
		}
		return lo.Map(ps, func(old Profile, i int) Profile {
			if i == index {
				return p
			}
			return old
		}), nil
	})
}

// Remove deletes the profile at index
func (l *List) Remove(index int) error {
	return l.mutate(func(ps []Profile) ([]Profile, error) {
		if index < 0 || index >= len(ps) {
			return nil, ErrIndexOutOfRange
		}
		return lo.Filter(ps, func(_ Profile, i int) bool { return i != index }), nil
	})
}

// Clear removes every profile
func (l *List) Clear() error {
	return l.mutate(func([]Profile) ([]Profile, error) {
		return []Profile{}, nil
	})
}

func (l *List) mutate(f func([]Profile) ([]Profile, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return ErrNotLoaded
	}
	next, err := f(l.snapshot())
	if err != nil {
		return err
	}
	l.profiles = next
	return l.save()
}

func (l *List) snapshot() []Profile {
	return append([]Profile(nil), l.profiles...)
}

func (l *List) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	profiles := l.profiles
	if profiles == nil {
		profiles = []Profile{}
	}
	data, err := sonic.ConfigStd.MarshalIndent(map[string][]Profile{StoreKey: profiles}, "", "  ")
	if err != nil {
		return err
	}
	// Write to a sibling and rename so a crash never leaves half a file
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

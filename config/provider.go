package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Provider answers the two questions the feedback engine asks about deployment
// configuration. Implementations must be safe for concurrent use.
type Provider interface {
	IsAdmin(userID, communityID int64) bool
	IsQualifyingThread(channelID int64) bool
}

// fileDocument mirrors the on-disk JSON layout.
type fileDocument struct {
	Admins []int64                 `json:"admins"`
	Guilds map[string]guildSection `json:"guilds"`
}

type guildSection struct {
	Admins        []int64 `json:"admins"`
	ForumChannels []int64 `json:"forum_channels"`
}

type snapshot struct {
	globalAdmins  map[int64]bool
	guildAdmins   map[int64]map[int64]bool
	forumChannels map[int64]bool
}

// FileProvider serves admin and forum-channel lookups from a JSON file.
// The file is only re-read when Reload is called.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	snap snapshot
}

// NewFileProvider loads the configuration file once and returns the provider.
func NewFileProvider(path string) (*FileProvider, error) {
	fp := &FileProvider{path: path}
	if err := fp.Reload(); err != nil {
		return nil, err
	}
	return fp, nil
}

// Reload re-reads the configuration file. On error the previous snapshot stays active.
func (fp *FileProvider) Reload() error {
	data, err := os.ReadFile(fp.path)
	if err != nil {
		return fmt.Errorf("could not read config file %s: %w", fp.path, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", fp.path, err)
	}
	snap, err := buildSnapshot(doc)
	if err != nil {
		return err
	}
	fp.mu.Lock()
	fp.snap = snap
	fp.mu.Unlock()
	return nil
}

func buildSnapshot(doc fileDocument) (snapshot, error) {
	snap := snapshot{
		globalAdmins:  make(map[int64]bool, len(doc.Admins)),
		guildAdmins:   make(map[int64]map[int64]bool, len(doc.Guilds)),
		forumChannels: make(map[int64]bool),
	}
	for _, id := range doc.Admins {
		snap.globalAdmins[id] = true
	}
	for key, g := range doc.Guilds {
		guildID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return snapshot{}, fmt.Errorf("invalid guild id %q in config: %w", key, err)
		}
		admins := make(map[int64]bool, len(g.Admins))
		for _, id := range g.Admins {
			admins[id] = true
		}
		snap.guildAdmins[guildID] = admins
		for _, ch := range g.ForumChannels {
			snap.forumChannels[ch] = true
		}
	}
	return snap, nil
}

func (fp *FileProvider) IsAdmin(userID, communityID int64) bool {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	if fp.snap.globalAdmins[userID] {
		return true
	}
	return fp.snap.guildAdmins[communityID][userID]
}

func (fp *FileProvider) IsQualifyingThread(channelID int64) bool {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.snap.forumChannels[channelID]
}

// StaticProvider is a fixed in-memory Provider.
type StaticProvider struct {
	Admins        map[int64]bool
	ForumChannels map[int64]bool
}

func (sp StaticProvider) IsAdmin(userID, _ int64) bool     { return sp.Admins[userID] }
func (sp StaticProvider) IsQualifyingThread(ch int64) bool { return sp.ForumChannels[ch] }

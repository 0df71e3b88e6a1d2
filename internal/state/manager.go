package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownState is returned when operations reference an undefined key.
	ErrUnknownState = errors.New("unknown state")

	fileExtension = ".json"
	keySanitizer  = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Manager persists run conversations under day-bucketed folders.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*Conversation
	root   string
	logger *log.Logger
}

// NewManager loads previously stored conversations from root.
func NewManager(root string, logger *log.Logger) (*Manager, error) {
	if root == "" {
		root = "conversations"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	mgr := &Manager{
		states: make(map[string]*Conversation),
		root:   root,
		logger: logger,
	}
	if err := mgr.loadExisting(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// Create registers a fresh conversation. An empty key picks the next run-N name.
func (m *Manager) Create(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		key = m.nextKeyLocked()
	}
	if _, exists := m.states[key]; exists {
		return nil, fmt.Errorf("state %s already exists", key)
	}
	conv := NewConversation(key)
	if err := m.persistLocked(conv); err != nil {
		return nil, err
	}
	m.states[key] = conv
	return conv, nil
}

// Get returns a stored conversation.
func (m *Manager) Get(key string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.states[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	return conv, nil
}

// Save writes the provided conversation to disk.
func (m *Manager) Save(conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	if _, ok := m.states[conv.key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, conv.key)
	}
	return m.persistLocked(conv)
}

// Summary captures metadata about a stored conversation without exposing message content.
type Summary struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Summaries returns details for each known conversation, newest first.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]Summary, 0, len(m.states))
	for key, conv := range m.states {
		summaries = append(summaries, Summary{
			Key:          key,
			CreatedAt:    conv.createdAt,
			UpdatedAt:    conv.updatedAt,
			MessageCount: len(conv.messages),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read conversation root: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dayDir := filepath.Join(m.root, entry.Name())
		files, err := os.ReadDir(dayDir)
		if err != nil {
			m.logger.Printf("skip %s: %v", dayDir, err)
			continue
		}
		for _, fileEntry := range files {
			if fileEntry.IsDir() || filepath.Ext(fileEntry.Name()) != fileExtension {
				continue
			}
			path := filepath.Join(dayDir, fileEntry.Name())
			conv, err := readConversation(path)
			if err != nil {
				m.logger.Printf("load %s failed: %v", path, err)
				continue
			}
			if conv.key == "" {
				conv.key = strings.TrimSuffix(fileEntry.Name(), fileExtension)
			}
			if existing, exists := m.states[conv.key]; exists && existing.updatedAt.After(conv.updatedAt) {
				continue
			}
			m.states[conv.key] = conv
			loaded++
		}
	}
	if loaded > 0 {
		m.logger.Printf("loaded %d stored conversations", loaded)
	}
	return nil
}

func readConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var persisted persistedConversation
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, err
	}
	meta := persisted.Meta
	// Older files without metadata get empty entries so the invariant holds.
	if len(meta) != len(persisted.Messages) {
		meta = make([]TurnMeta, len(persisted.Messages))
	}
	conv := &Conversation{
		key:         persisted.Key,
		messages:    persisted.Messages,
		meta:        meta,
		storagePath: path,
		createdAt:   persisted.CreatedAt,
		updatedAt:   persisted.UpdatedAt,
	}
	if conv.createdAt.IsZero() {
		if info, statErr := os.Stat(path); statErr == nil {
			conv.createdAt = info.ModTime()
		} else {
			conv.createdAt = time.Now()
		}
	}
	if conv.updatedAt.IsZero() {
		conv.updatedAt = conv.createdAt
	}
	return conv, nil
}

func (m *Manager) persistLocked(conv *Conversation) error {
	if conv.storagePath == "" {
		folder := filepath.Join(m.root, conv.createdAt.Format("2006-01-02"))
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return fmt.Errorf("create folder %s: %w", folder, err)
		}
		conv.storagePath = filepath.Join(folder, sanitizeKey(conv.key)+fileExtension)
	}
	payload := persistedConversation{
		Key:       conv.key,
		Messages:  conv.messages,
		Meta:      conv.meta,
		CreatedAt: conv.createdAt,
		UpdatedAt: conv.updatedAt,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	tmp := conv.storagePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp conversation: %w", err)
	}
	if err := os.Rename(tmp, conv.storagePath); err != nil {
		return fmt.Errorf("replace conversation: %w", err)
	}
	return nil
}

func sanitizeKey(key string) string {
	sanitized := keySanitizer.ReplaceAllString(strings.TrimSpace(key), "_")
	sanitized = strings.Trim(sanitized, "_-")
	if sanitized == "" {
		sanitized = "run"
	}
	return sanitized
}

// nextKeyLocked picks run-N one past the highest stored number.
func (m *Manager) nextKeyLocked() string {
	maxNum := 0
	for key := range m.states {
		var num int
		if _, err := fmt.Sscanf(key, "run-%d", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return fmt.Sprintf("run-%d", maxNum+1)
}

// persistedConversation mirrors the JSON schema stored on disk.
type persistedConversation struct {
	Key       string     `json:"key"`
	Messages  []Message  `json:"messages"`
	Meta      []TurnMeta `json:"meta"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

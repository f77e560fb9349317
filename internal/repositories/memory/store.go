// Package memory provides in-process implementations of the repository
// interfaces for tests and for hosts that embed the engine without a
// database.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
)

type settingsKey struct {
	levelType  entities.LevelType
	levelID    string
	objectType entities.ResourceType
	objectID   string
}

type attachment struct {
	policyID string
	enforce  bool
}

// Store is an in-memory implementation of SettingsStore, PolicySource,
// ContentLookup and SubjectDirectory. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	settings    map[settingsKey]map[string]interface{}
	policies    map[string]*entities.Policy
	attachments map[string][]attachment // level key -> ordered attachments
	content     map[string]*entities.ContentItem
	roles       map[string]*entities.RoleLevel
	users       map[int64]*entities.UserLevel
	userOptions map[int64]map[string]interface{}
	userMeta    map[int64]map[string]interface{}
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		settings:    make(map[settingsKey]map[string]interface{}),
		policies:    make(map[string]*entities.Policy),
		attachments: make(map[string][]attachment),
		content:     make(map[string]*entities.ContentItem),
		roles:       make(map[string]*entities.RoleLevel),
		users:       make(map[int64]*entities.UserLevel),
		userOptions: make(map[int64]map[string]interface{}),
		userMeta:    make(map[int64]map[string]interface{}),
	}
}

// Read implements repositories.SettingsStore
func (s *Store) Read(ctx context.Context, levelType entities.LevelType, levelID string, objectType entities.ResourceType, objectID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.settings[settingsKey{levelType, levelID, objectType, objectID}]
	if !ok {
		return nil, nil
	}
	return entities.CopySettings(stored), nil
}

// Write implements repositories.SettingsStore
func (s *Store) Write(ctx context.Context, levelType entities.LevelType, levelID string, objectType entities.ResourceType, objectID string, settings map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settingsKey{levelType, levelID, objectType, objectID}] = entities.CopySettings(settings)
	return nil
}

// Delete implements repositories.SettingsStore
func (s *Store) Delete(ctx context.Context, levelType entities.LevelType, levelID string, objectType entities.ResourceType, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, settingsKey{levelType, levelID, objectType, objectID})
	return nil
}

// SavePolicy parses and stores a policy document body under the given ID
func (s *Store) SavePolicy(id string, body []byte) error {
	policy, err := entities.ParsePolicyDocument(id, body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[id] = policy
	return nil
}

// GetAttached implements repositories.PolicySource
func (s *Store) GetAttached(ctx context.Context, level entities.AccessLevel) ([]*entities.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*entities.Policy
	for _, att := range s.attachments[entities.LevelKey(level)] {
		if !att.enforce {
			continue
		}
		policy, ok := s.policies[att.policyID]
		if !ok {
			continue
		}
		result = append(result, policy)
	}
	return result, nil
}

// Attach implements repositories.PolicySource
func (s *Store) Attach(ctx context.Context, level entities.AccessLevel, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policyID]; !ok {
		return fmt.Errorf("policy %s does not exist", policyID)
	}
	key := entities.LevelKey(level)
	for i, att := range s.attachments[key] {
		if att.policyID == policyID {
			s.attachments[key][i].enforce = true
			return nil
		}
	}
	s.attachments[key] = append(s.attachments[key], attachment{policyID: policyID, enforce: true})
	return nil
}

// Detach implements repositories.PolicySource
func (s *Store) Detach(ctx context.Context, level entities.AccessLevel, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entities.LevelKey(level)
	for i, att := range s.attachments[key] {
		if att.policyID == policyID {
			s.attachments[key][i].enforce = false
			return nil
		}
	}
	return fmt.Errorf("policy %s is not attached to %s", policyID, key)
}

// AddContent registers a content item for lookup
func (s *Store) AddContent(item *entities.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[item.Key()] = item
}

// GetContent implements repositories.ContentLookup
func (s *Store) GetContent(ctx context.Context, id int64, contentType string) (*entities.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content[entities.ContentKey(id, contentType)], nil
}

// AddRole registers a role record
func (s *Store) AddRole(role *entities.RoleLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.Slug] = role
}

// AddUser registers a user record
func (s *Store) AddUser(user *entities.UserLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
}

// SetUserOption stores a per-user option value
func (s *Store) SetUserOption(userID int64, name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userOptions[userID] == nil {
		s.userOptions[userID] = make(map[string]interface{})
	}
	s.userOptions[userID][name] = value
}

// SetUserMeta stores a per-user meta value
func (s *Store) SetUserMeta(userID int64, name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userMeta[userID] == nil {
		s.userMeta[userID] = make(map[string]interface{})
	}
	s.userMeta[userID][name] = value
}

// GetRole implements repositories.SubjectDirectory
func (s *Store) GetRole(ctx context.Context, slug string) (*entities.RoleLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[slug], nil
}

// GetUser implements repositories.SubjectDirectory
func (s *Store) GetUser(ctx context.Context, id int64) (*entities.UserLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id], nil
}

// GetUserOption implements repositories.SubjectDirectory
func (s *Store) GetUserOption(ctx context.Context, userID int64, name string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opts, ok := s.userOptions[userID]
	if !ok {
		return nil, nil
	}
	return opts[name], nil
}

// GetUserMeta implements repositories.SubjectDirectory
func (s *Store) GetUserMeta(ctx context.Context, userID int64, name string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.userMeta[userID]
	if !ok {
		return nil, nil
	}
	return meta[name], nil
}

var (
	_ repositories.SettingsStore    = (*Store)(nil)
	_ repositories.PolicySource     = (*Store)(nil)
	_ repositories.ContentLookup    = (*Store)(nil)
	_ repositories.SubjectDirectory = (*Store)(nil)
)

package relay

import (
	"sort"
	"sync"
	"time"
)

type DuplicatePolicy string

const (
	// ReplaceDuplicate evicts the older connection of an identity.
	ReplaceDuplicate DuplicatePolicy = "replace"
	// RejectDuplicate refuses the newer connection of an identity.
	RejectDuplicate DuplicatePolicy = "reject"
)

type ConnectionInfo struct {
	UserId      string    `json:"userId"`
	Role        string    `json:"role"`
	TenantId    string    `json:"tenantId"`
	SessionId   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Registry maps an identity to its single live client.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register stores c under its identity. With ReplaceDuplicate the previous
// client, if any, is returned and the caller must close it. max caps the
// number of distinct identities; zero disables the cap.
func (r *Registry) Register(c *Client, policy DuplicatePolicy, max int) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.clients[c.info.UserId]
	if exists && policy == RejectDuplicate {
		return nil, ErrAlreadyConnected
	}

	if !exists && max > 0 && len(r.clients) >= max {
		return nil, ErrTooManyConnections
	}

	r.clients[c.info.UserId] = c
	return prev, nil
}

func (r *Registry) Lookup(userId string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[userId]
	return c, ok
}

// Remove deletes the entry for c's identity only when c is still the
// registered client, so a superseded connection cannot evict its successor.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[c.info.UserId]; ok && cur == c {
		delete(r.clients, c.info.UserId)
		return true
	}

	return false
}

// AllOfTenant returns the identities connected for tenantId, sorted.
func (r *Registry) AllOfTenant(tenantId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, c := range r.clients {
		if c.info.TenantId == tenantId {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

func (r *Registry) List() []ConnectionInfo {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, c.info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UserId < infos[j].UserId
	})
	return infos
}

// all returns a copy of every registered client.
func (r *Registry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		cs = append(cs, c)
	}
	return cs
}

// Package relationships resolves connection descriptors from platform relationship metadata.
package relationships

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fgeck/cloud-dbops/internal/models"
	json "github.com/goccy/go-json"
)

// ErrUnresolvableConnection is returned when relationship metadata has no entry for a key.
var ErrUnresolvableConnection = errors.New("unresolvable connection")

// relationshipNames maps connection keys to platform relationship names.
var relationshipNames = map[string]string{
	models.ConnectionMain:       "database",
	models.ConnectionSlave:      "database-slave",
	models.ConnectionQuoteMain:  "database-quote",
	models.ConnectionQuoteSlave: "database-quote-slave",
	models.ConnectionSalesMain:  "database-sales",
	models.ConnectionSalesSlave: "database-sales-slave",
}

// Entry is one service entry of a relationship.
type Entry struct {
	Host     string `json:"host"`
	Port     any    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Path     string `json:"path"`
	Scheme   string `json:"scheme"`
}

// Metadata is the decoded relationship document: relationship name to service entries.
type Metadata map[string][]Entry

// Parse decodes relationship metadata. Both plain JSON and base64-encoded JSON are accepted.
func Parse(raw []byte) (Metadata, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Metadata{}, nil
	}

	data := []byte(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decoding relationships: %w", err)
		}
		data = decoded
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parsing relationships: %w", err)
	}
	return md, nil
}

// Load reads relationship metadata from file if set, otherwise from the env variable.
// Missing metadata is not an error; it yields an empty document.
func Load(cfg models.RelationshipSettings) (Metadata, error) {
	if cfg.File != "" {
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading relationships file: %w", err)
		}
		return Parse(raw)
	}
	if cfg.EnvVar == "" {
		return Metadata{}, nil
	}
	return Parse([]byte(os.Getenv(cfg.EnvVar)))
}

// Resolver returns connection descriptors for connection keys.
type Resolver interface {
	Resolve(key string) (models.ConnectionDescriptor, error)
	Lookup(key string) (models.ConnectionDescriptor, bool)
	Empty() bool
}

// Impl implements Resolver. Descriptors are parsed once per key and then served from cache;
// metadata is treated as immutable for the resolver's lifetime.
type Impl struct {
	metadata Metadata

	mu    sync.Mutex
	cache map[string]models.ConnectionDescriptor
}

// New creates a resolver over the given metadata.
func New(md Metadata) *Impl {
	if md == nil {
		md = Metadata{}
	}
	return &Impl{
		metadata: md,
		cache:    make(map[string]models.ConnectionDescriptor),
	}
}

// Empty reports whether no relationship metadata was supplied at all.
func (r *Impl) Empty() bool {
	return len(r.metadata) == 0
}

// Resolve returns the descriptor for key or ErrUnresolvableConnection.
func (r *Impl) Resolve(key string) (models.ConnectionDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.cache[key]; ok {
		return d, nil
	}

	name, ok := relationshipNames[key]
	if !ok {
		return models.ConnectionDescriptor{}, fmt.Errorf("%w: unknown connection key %q", ErrUnresolvableConnection, key)
	}
	entries := r.metadata[name]
	if len(entries) == 0 {
		return models.ConnectionDescriptor{}, fmt.Errorf("%w: no %q relationship for %q", ErrUnresolvableConnection, name, key)
	}

	e := entries[0]
	d := models.ConnectionDescriptor{
		Host:     e.Host,
		Port:     portString(e.Port),
		User:     e.Username,
		Password: e.Password,
		DBName:   e.Path,
	}
	r.cache[key] = d
	return d, nil
}

// Lookup is Resolve as an optional result: ok is false when the key is unresolvable
// or resolves to an entry without a host.
func (r *Impl) Lookup(key string) (models.ConnectionDescriptor, bool) {
	d, err := r.Resolve(key)
	if err != nil || d.Host == "" {
		return models.ConnectionDescriptor{}, false
	}
	return d, true
}

func portString(v any) string {
	switch p := v.(type) {
	case nil:
		return ""
	case string:
		return p
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	case json.Number:
		return p.String()
	default:
		return fmt.Sprint(p)
	}
}

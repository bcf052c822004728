package vendorclient

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// EndpointConfig describes one vendor dataset endpoint: its canonical and
// VIP (high-quota) names, whether it is paginated, and the page size the
// client has learned to use for it (spec §4.1 "limitmax auto-discovery").
type EndpointConfig struct {
	Name      string `yaml:"name"`
	VIPName   string `yaml:"vip_name,omitempty"`
	Paginated bool   `yaml:"paginated"`
	LimitMax  int    `yaml:"limit_max"`

	mu sync.Mutex
}

// bump records a page larger than the currently known limit, and reports
// whether LimitMax changed — the caller uses this to decide whether to
// persist the new value (spec §4.1: "the discovered page size is recorded
// so future runs start from it instead of re-probing").
func (e *EndpointConfig) bump(observed int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if observed > e.LimitMax {
		e.LimitMax = observed
		return true
	}
	return false
}

func (e *EndpointConfig) snapshot() EndpointConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointConfig{Name: e.Name, VIPName: e.VIPName, Paginated: e.Paginated, LimitMax: e.LimitMax}
}

// EndpointStore persists learned limitmax values across process restarts
// (spec §9 "Supplemented features" — the reference implementation keeps
// this in a small sidecar file rather than re-discovering it every run).
type EndpointStore struct {
	path string
	mu   sync.Mutex
}

func NewEndpointStore(path string) *EndpointStore {
	return &EndpointStore{path: path}
}

// Load reads previously discovered limits into cfg, by endpoint name. A
// missing file is not an error: every endpoint simply starts from its
// compiled-in default.
func (s *EndpointStore) Load(endpoints map[string]*EndpointConfig) error {
	if s == nil || s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var persisted map[string]int
	if err := yaml.Unmarshal(data, &persisted); err != nil {
		return err
	}
	for name, limit := range persisted {
		if ep, ok := endpoints[name]; ok && limit > ep.LimitMax {
			ep.LimitMax = limit
		}
	}
	return nil
}

// Save writes out the current limitmax for every known endpoint.
func (s *EndpointStore) Save(endpoints map[string]*EndpointConfig) error {
	if s == nil || s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(endpoints))
	for name, ep := range endpoints {
		out[name] = ep.snapshot().LimitMax
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

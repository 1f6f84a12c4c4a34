package registry

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Entry 静态配置的后端 worker 描述（id + 地址），启动后不再变更。
type Entry struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Registry 后端注册表。进程启动时加载一次，全程只读；
// 第一个条目是兜底后端（会话存储查不到归属时使用）。
type Registry struct {
	entries []Entry
	byID    map[string]Entry
}

// Load 从 YAML 文件加载注册表，文件形如：
//
//	backends:
//	  - id: worker-1
//	    url: ws://10.0.0.11:9001/events
//	  - id: worker-2
//	    url: ws://10.0.0.12:9001/events
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read registry file %s", path)
	}

	var doc struct {
		Backends []Entry `yaml:"backends"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse registry file %s", path)
	}
	return New(doc.Backends)
}

// New 从条目列表构建注册表，保持给定顺序。
func New(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errors.New("backend registry is empty")
	}
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.URL == "" {
			return nil, errors.Errorf("registry entry missing id or url: %+v", e)
		}
		if _, dup := byID[e.ID]; dup {
			return nil, errors.Errorf("duplicate registry id %q", e.ID)
		}
		byID[e.ID] = e
	}
	return &Registry{entries: append([]Entry(nil), entries...), byID: byID}, nil
}

// Get 按 id 查找条目。
func (r *Registry) Get(id string) (Entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// First 返回第一个条目（兜底后端）。
func (r *Registry) First() Entry {
	return r.entries[0]
}

func (r *Registry) Len() int { return len(r.entries) }

// Entries 返回条目副本，调用方不能借此修改注册表。
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

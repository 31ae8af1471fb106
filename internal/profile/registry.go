package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"btcbacktest/internal/decision"
	"btcbacktest/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrUnknownProfile 表示请求的 profile 不存在。
var ErrUnknownProfile = errors.New("unknown strategy profile")

var log = logger.Component("profile")

//go:embed schema.json
var schemaJSON string

// Overrides 是对决策参数的局部覆盖，nil 表示沿用基础配置。
type Overrides struct {
	DCAAmount                *float64 `yaml:"dca_amount" json:"dca_amount,omitempty"`
	SwingAmount              *float64 `yaml:"swing_amount" json:"swing_amount,omitempty"`
	RSIOversold              *float64 `yaml:"rsi_oversold" json:"rsi_oversold,omitempty"`
	RSIOverbought            *float64 `yaml:"rsi_overbought" json:"rsi_overbought,omitempty"`
	KATR                     *float64 `yaml:"k_atr" json:"k_atr,omitempty"`
	FearThreshold            *float64 `yaml:"fear_threshold" json:"fear_threshold,omitempty"`
	SwingConfidenceThreshold *float64 `yaml:"swing_confidence_threshold" json:"swing_confidence_threshold,omitempty"`
	CircuitBreakerRatio      *float64 `yaml:"circuit_breaker_ratio" json:"circuit_breaker_ratio,omitempty"`
}

// Profile 是一组命名的阈值预设。
type Profile struct {
	Name        string `yaml:"-" json:"-"`
	Description string `yaml:"description" json:"description,omitempty"`
	Overrides   `yaml:",inline"`
}

// Apply 把覆盖项合并到 base 上并校验结果。
func (p Profile) Apply(base decision.Config) (decision.Config, error) {
	out := base
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.DCAAmount, p.DCAAmount)
	set(&out.SwingAmount, p.SwingAmount)
	set(&out.RSIOversold, p.RSIOversold)
	set(&out.RSIOverbought, p.RSIOverbought)
	set(&out.KATR, p.KATR)
	set(&out.FearThreshold, p.FearThreshold)
	set(&out.SwingConfidenceThreshold, p.SwingConfidenceThreshold)
	set(&out.CircuitBreakerRatio, p.CircuitBreakerRatio)
	if err := out.Validate(); err != nil {
		return decision.Config{}, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return out, nil
}

// FileConfig 映射 profiles 文件。
type FileConfig struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot 是某次加载后的只读视图。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// Names 返回排序后的 profile 名称。
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ChangeListener 在重载成功后被调用。
type ChangeListener func(Snapshot)

// Registry 从 YAML 加载 profile；Watch 之后文件变化会触发热更新，失败时保留旧快照。
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
	watching  bool
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry requires path")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile profile schema failed: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Watch 开始监听文件变化，重复调用无副作用。
func (r *Registry) Watch() {
	r.mu.Lock()
	if r.watching {
		r.mu.Unlock()
		return
	}
	r.watching = true
	r.mu.Unlock()
	r.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			log.Errorf("reload failed (%s), keeping previous profiles: %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	r.v.WatchConfig()
}

// Reload 手动重新读取文件。
func (r *Registry) Reload() error {
	if err := r.reload(); err != nil {
		return err
	}
	r.notifyListeners()
	return nil
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

func (r *Registry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(name)]
	return p, ok
}

// Apply 返回 base 叠加指定 profile 后的配置；name 为空时原样返回 base。
func (r *Registry) Apply(name string, base decision.Config) (decision.Config, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return base, nil
	}
	p, ok := r.Get(name)
	if !ok {
		return decision.Config{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p.Apply(base)
}

// Subscribe 注册监听器，之后每次重载都会收到新快照。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorf("listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("profile name 不能为空")
		}
		if err := r.validate(p); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		p.Name = name
		p.Description = strings.TrimSpace(p.Description)
		profiles[name] = p
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	log.Infof("loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) validate(p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return r.schema.Validate(doc)
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	return cfg, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("profile.json")
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for name, p := range src.Profiles {
		dst.Profiles[name] = p
	}
	return dst
}

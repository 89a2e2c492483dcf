package category

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lexify/requestforms/rules"
)

// Category bundles a spec with its compiled rule engine and policy.
type Category struct {
	Spec   *Spec
	Engine *rules.Engine
	Policy *Policy
}

// StoreFactory returns the rule store backing one category.
type StoreFactory func(categoryKey string) rules.RuleStore

// InMemoryStores keeps rules in process memory.
func InMemoryStores() StoreFactory {
	return func(key string) rules.RuleStore {
		return rules.NewInMemoryRuleStore(key)
	}
}

// PostgresStores keeps rules in the field_rules table.
func PostgresStores(db *sql.DB) StoreFactory {
	return func(key string) rules.RuleStore {
		return rules.NewPostgresRuleStore(db, key)
	}
}

// Registry holds one compiled category per spec key. Safe for concurrent use.
type Registry struct {
	categories map[string]*Category
	newStore   StoreFactory
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry whose categories use stores from newStore.
func NewRegistry(newStore StoreFactory) *Registry {
	return &Registry{
		categories: make(map[string]*Category),
		newStore:   newStore,
	}
}

// NewCELEnv declares one typed CEL variable per spec field plus the
// confirmation checkbox.
func NewCELEnv(spec *Spec) (*cel.Env, error) {
	fields := spec.AllFields()
	opts := make([]cel.EnvOption, 0, len(fields)+1)
	for _, f := range fields {
		opts = append(opts, cel.Variable(f.Key, celType(f.Kind)))
	}
	opts = append(opts, cel.Variable(AgreeVariable, cel.BoolType))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func celType(kind FieldKind) *cel.Type {
	switch kind {
	case KindMulti:
		return cel.ListType(cel.StringType)
	case KindFlag:
		return cel.BoolType
	default:
		return cel.StringType
	}
}

// LoadAll loads every spec, stopping at the first failure.
func (r *Registry) LoadAll(specs []*Spec) error {
	for _, spec := range specs {
		if err := r.Load(spec); err != nil {
			return fmt.Errorf("failed to load category %s: %w", spec.Key, err)
		}
	}
	return nil
}

// Load validates spec, compiles its rules and installs it, replacing any
// previous version of the category in one swap. Rules already present in
// the store (for instance edited by an administrator) are kept; missing
// seed rules are added.
func (r *Registry) Load(spec *Spec) error {
	spec.Normalize()
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	env, err := NewCELEnv(spec)
	if err != nil {
		return err
	}

	r.mu.RLock()
	existing, exists := r.categories[spec.Key]
	r.mu.RUnlock()

	var store rules.RuleStore
	if exists {
		store = existing.Engine.Store()
	} else {
		store = r.newStore(spec.Key)
	}

	for _, seed := range spec.SeedRules() {
		if _, err := store.Get(seed.ID); err == nil {
			continue
		} else if !errors.Is(err, rules.ErrRuleNotFound) {
			return fmt.Errorf("failed to look up rule %s: %w", seed.ID, err)
		}
		if err := store.Add(seed); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", seed.ID, err)
		}
	}

	engine, err := rules.NewEngine(env, store, spec.FieldKeys())
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	cat := &Category{
		Spec:   spec,
		Engine: engine,
		Policy: NewPolicy(spec, engine),
	}

	r.mu.Lock()
	r.categories[spec.Key] = cat
	r.mu.Unlock()

	return nil
}

// Get retrieves a loaded category.
func (r *Registry) Get(key string) (*Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cat, exists := r.categories[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, key)
	}
	return cat, nil
}

// List returns the loaded categories ordered by key.
func (r *Registry) List() []*Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Category, 0, len(r.categories))
	for _, cat := range r.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Key < out[j].Spec.Key })
	return out
}

// Remove unloads a category. Its stored rules are left untouched.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.categories[key]; !exists {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, key)
	}
	delete(r.categories, key)
	return nil
}

package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// costLimit bounds the work a single rule may do per evaluation.
const costLimit = 1000000

// Engine compiles and evaluates the field rules of one request category.
// It is safe for concurrent use.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	cache    RulesCache
	fields   map[string]bool
	programs map[string]cel.Program // ruleID -> compiled program
	mu       sync.RWMutex
	// storeMu orders store writes against cache refills, so a refill never
	// caches a list older than the last invalidation.
	storeMu sync.RWMutex
}

// NewEngine creates an engine over env, the CEL environment declaring the
// category's draft fields. fields lists the keys rules may reveal or require.
// All active rules in store are compiled up front.
func NewEngine(env *cel.Env, store RuleStore, fields []string) (*Engine, error) {
	en := &Engine{
		env:      env,
		store:    store,
		cache:    NewInMemoryRulesCache(DefaultCacheConfig()),
		fields:   make(map[string]bool, len(fields)),
		programs: make(map[string]cel.Program),
	}
	for _, f := range fields {
		en.fields[f] = true
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// CompileRule compiles a rule expression and caches the program under ruleID.
// The expression must type-check to bool (or dyn when fields are untyped).
func (en *Engine) CompileRule(ruleID, expression string) error {
	if expression == "" {
		return ErrEmptyExpression
	}

	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}

	out := ast.OutputType()
	if !out.IsEquivalentType(cel.BoolType) && !out.IsEquivalentType(cel.DynType) {
		return fmt.Errorf("%w, got %s", ErrNotBoolean, out)
	}

	prog, err := en.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[ruleID] = prog
	en.mu.Unlock()

	return nil
}

func (en *Engine) checkFields(r *Rule) error {
	for _, group := range [][]string{r.Reveal, r.Require} {
		for _, f := range group {
			if !en.fields[f] {
				return fmt.Errorf("%w: %q", ErrUnknownField, f)
			}
		}
	}
	return nil
}

// CompileAllRules compiles every active rule and primes the cache.
func (en *Engine) CompileAllRules() error {
	rules, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := en.checkFields(rule); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if err := en.CompileRule(rule.ID, rule.Expression); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}

	en.cache.Set(rules)
	return nil
}

// AddRule validates, compiles and stores a new rule. Nothing is kept if the
// store rejects it.
func (en *Engine) AddRule(r *Rule) error {
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
	}

	if err := en.checkFields(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}
	if err := en.CompileRule(r.ID, r.Expression); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	en.storeMu.Lock()
	defer en.storeMu.Unlock()
	if err := en.store.Add(r); err != nil {
		en.mu.Lock()
		delete(en.programs, r.ID)
		en.mu.Unlock()
		return err
	}

	en.cache.Invalidate()
	return nil
}

// UpdateRule recompiles and stores a changed rule.
func (en *Engine) UpdateRule(r *Rule) error {
	if err := en.checkFields(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	en.mu.RLock()
	previous, hadPrevious := en.programs[r.ID]
	en.mu.RUnlock()

	if err := en.CompileRule(r.ID, r.Expression); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	en.storeMu.Lock()
	defer en.storeMu.Unlock()
	if err := en.store.Update(r); err != nil {
		en.mu.Lock()
		if hadPrevious {
			en.programs[r.ID] = previous
		} else {
			delete(en.programs, r.ID)
		}
		en.mu.Unlock()
		return err
	}

	en.cache.Invalidate()
	return nil
}

// DeleteRule removes a rule from the store and drops its program.
func (en *Engine) DeleteRule(ruleID string) error {
	en.storeMu.Lock()
	defer en.storeMu.Unlock()
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()

	en.cache.Invalidate()
	return nil
}

// Store exposes the engine's rule store for read access.
func (en *Engine) Store() RuleStore {
	return en.store
}

// ActiveRules returns the active rules, served from cache when possible.
func (en *Engine) ActiveRules() ([]*Rule, error) {
	if rules := en.cache.Get(); rules != nil {
		return rules, nil
	}

	en.storeMu.RLock()
	defer en.storeMu.RUnlock()
	rules, err := en.store.ListActive()
	if err != nil {
		return nil, err
	}
	en.cache.Set(rules)
	return rules, nil
}

func (en *Engine) eval(rule *Rule, facts map[string]any) *EvaluationResult {
	result := &EvaluationResult{RuleID: rule.ID, RuleName: rule.Name}

	en.mu.RLock()
	prog, exists := en.programs[rule.ID]
	en.mu.RUnlock()

	if !exists {
		result.Error = fmt.Errorf("%w: %s", ErrNotCompiled, rule.ID)
		return result
	}

	out, details, err := prog.Eval(facts)
	if err != nil {
		result.Error = err
		return result
	}

	if b, ok := out.Value().(bool); ok {
		result.Matched = b
	}
	if details != nil {
		result.Trace = details.State()
	}
	return result
}

// Evaluate evaluates a single rule against the draft facts.
func (en *Engine) Evaluate(ruleID string, facts map[string]any) (*EvaluationResult, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	result := en.eval(rule, facts)
	return result, result.Error
}

// EvaluateAll evaluates every active rule. A failing rule is reported in its
// result and does not stop the others.
func (en *Engine) EvaluateAll(facts map[string]any) ([]*EvaluationResult, error) {
	rules, err := en.ActiveRules()
	if err != nil {
		return nil, err
	}

	results := make([]*EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, en.eval(rule, facts))
	}
	return results, nil
}

// Resolve evaluates every active rule and folds the matches into the sets of
// revealed and required fields. The first rule error is returned alongside
// the partial resolution.
func (en *Engine) Resolve(facts map[string]any) (*Resolution, error) {
	rules, err := en.ActiveRules()
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Conditional: make(map[string]bool),
		Revealed:    make(map[string]bool),
		Required:    make(map[string]bool),
		Results:     make([]*EvaluationResult, 0, len(rules)),
	}

	var firstErr error
	for _, rule := range rules {
		for _, f := range rule.Reveal {
			res.Conditional[f] = true
		}

		result := en.eval(rule, facts)
		res.Results = append(res.Results, result)
		if result.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rule %s: %w", rule.ID, result.Error)
			}
			continue
		}
		if !result.Matched {
			continue
		}
		for _, f := range rule.Reveal {
			res.Revealed[f] = true
		}
		for _, f := range rule.Require {
			res.Required[f] = true
		}
	}

	return res, firstErr
}

package category

import (
	"errors"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/lexify/requestforms/rules"
)

// emptyFacts returns activation values with every field of spec unset.
func emptyFacts(spec *Spec) map[string]any {
	facts := map[string]any{AgreeVariable: false}
	for _, f := range spec.AllFields() {
		switch f.Kind {
		case KindMulti:
			facts[f.Key] = []string{}
		case KindFlag:
			facts[f.Key] = false
		default:
			facts[f.Key] = ""
		}
	}
	return facts
}

func loadTestCategory(t *testing.T) (*Registry, *Category) {
	t.Helper()
	reg := NewRegistry(InMemoryStores())
	if err := reg.Load(testSpec(t)); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cat, err := reg.Get("test-category")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	return reg, cat
}

func TestRegistryLoadSeedsRules(t *testing.T) {
	_, cat := loadTestCategory(t)

	stored, err := cat.Engine.Store().List()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, r := range stored {
		got[r.ID] = true
	}
	for _, id := range []string{"fixed-price", "need-other", "topics-other", "languages-other"} {
		if !got[id] {
			t.Errorf("seed rule %s not stored", id)
		}
	}
}

func TestSeedRulesKeepAlternativeCompanionVisible(t *testing.T) {
	spec := testSpec(t)

	byID := map[string]*rules.Rule{}
	for _, r := range spec.SeedRules() {
		byID[r.ID] = r
	}

	lang, ok := byID["languages-other"]
	if !ok {
		t.Fatal("languages-other not generated")
	}
	if len(lang.Reveal) != 0 {
		t.Errorf("languages-other reveals %v, want nothing", lang.Reveal)
	}
	if len(lang.Require) != 1 || lang.Require[0] != FieldOtherLanguage {
		t.Errorf("languages-other requires %v", lang.Require)
	}

	topics := byID["topics-other"]
	if topics == nil || len(topics.Reveal) != 1 || topics.Reveal[0] != "topicsOther" {
		t.Errorf("topics-other = %+v, want it to reveal topicsOther", topics)
	}
}

func TestRegistryReloadKeepsEditedRules(t *testing.T) {
	reg, cat := loadTestCategory(t)

	edited := &rules.Rule{
		ID:         "fixed-price",
		Name:       "Edited",
		Expression: `need == "Other:"`,
		Reveal:     []string{FieldMaxPrice},
		Active:     true,
	}
	if err := cat.Engine.UpdateRule(edited); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	if err := reg.Load(testSpec(t)); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	reloaded, _ := reg.Get("test-category")
	if reloaded == cat {
		t.Error("reload should install a new category")
	}
	rule, err := reloaded.Engine.Store().Get("fixed-price")
	if err != nil {
		t.Fatal(err)
	}
	if rule.Name != "Edited" {
		t.Errorf("reload overwrote an edited rule: %+v", rule)
	}
}

func TestRegistryGetListRemove(t *testing.T) {
	reg := NewRegistry(InMemoryStores())
	specs, err := BuiltinSpecs()
	if err != nil {
		t.Fatalf("BuiltinSpecs() failed: %v", err)
	}
	if err := reg.LoadAll(specs); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	list := reg.List()
	if len(list) != len(specs) {
		t.Fatalf("List() returned %d categories, want %d", len(list), len(specs))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Spec.Key >= list[i].Spec.Key {
			t.Errorf("List() not ordered by key: %s before %s", list[i-1].Spec.Key, list[i].Spec.Key)
		}
	}

	key := list[0].Spec.Key
	if err := reg.Remove(key); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, err := reg.Get(key); !errors.Is(err, ErrCategoryNotFound) {
		t.Errorf("expected ErrCategoryNotFound, got %v", err)
	}
	if err := reg.Remove(key); !errors.Is(err, ErrCategoryNotFound) {
		t.Errorf("expected ErrCategoryNotFound on second remove, got %v", err)
	}
}

func TestRegistryRejectsInvalidSpec(t *testing.T) {
	reg := NewRegistry(InMemoryStores())
	spec := testSpec(t)
	spec.Rules[0].Expression = `need.size()`

	if err := reg.Load(spec); err == nil {
		t.Fatal("expected Load() to reject a non-boolean rule")
	}
	if len(reg.List()) != 0 {
		t.Error("a rejected spec must not be installed")
	}
}

func TestPolicyResolve(t *testing.T) {
	_, cat := loadTestCategory(t)

	tests := []struct {
		name        string
		set         map[string]any
		visible     []string
		hidden      []string
		required    []string
		notRequired []string
	}{
		{
			name:        "empty draft",
			hidden:      []string{FieldMaxPrice, "needOther", "topicsOther"},
			visible:     []string{FieldContactPerson, "need", "topics", FieldCounterparty, FieldTitle, FieldOtherLanguage},
			required:    []string{FieldContactPerson, "need", FieldLanguages, FieldOffersDeadline, FieldTitle},
			notRequired: []string{"topics", FieldCounterparty, FieldBackground, FieldOtherLanguage},
		},
		{
			name:     "fixed price need",
			set:      map[string]any{"need": "Contract drafting for a lump sum fixed price"},
			visible:  []string{FieldMaxPrice},
			hidden:   []string{"needOther"},
			required: []string{FieldMaxPrice},
		},
		{
			name:     "other need",
			set:      map[string]any{"need": OtherSentinel},
			visible:  []string{"needOther"},
			hidden:   []string{FieldMaxPrice},
			required: []string{"needOther"},
		},
		{
			name:     "other topic and language",
			set:      map[string]any{"topics": []string{"Employment", OtherSentinel}, FieldLanguages: []string{OtherSentinel}},
			visible:  []string{"topicsOther", FieldOtherLanguage},
			required: []string{"topicsOther", FieldOtherLanguage},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			facts := emptyFacts(cat.Spec)
			for k, v := range tc.set {
				facts[k] = v
			}

			vis, err := cat.Policy.Resolve(facts)
			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}
			for _, k := range tc.visible {
				if !vis.Visible.Has(k) {
					t.Errorf("%s should be visible", k)
				}
			}
			for _, k := range tc.hidden {
				if vis.Visible.Has(k) {
					t.Errorf("%s should be hidden", k)
				}
				if vis.Required.Has(k) {
					t.Errorf("hidden field %s must not be required", k)
				}
			}
			for _, k := range tc.required {
				if !vis.Required.Has(k) {
					t.Errorf("%s should be required", k)
				}
			}
			for _, k := range tc.notRequired {
				if vis.Required.Has(k) {
					t.Errorf("%s should be optional", k)
				}
			}
		})
	}
}

func TestPolicyResolveIsPure(t *testing.T) {
	_, cat := loadTestCategory(t)
	facts := emptyFacts(cat.Spec)
	facts["need"] = OtherSentinel

	first, err := cat.Policy.Resolve(facts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := cat.Policy.RequiredFields(facts)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first.Required) {
			t.Fatalf("Resolve() is not stable: %v vs %v", again.Keys(), first.Required.Keys())
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg, _ := loadTestCategory(t)
	specs := make([]*Spec, 10)
	for i := range specs {
		specs[i] = testSpec(t)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cat, err := reg.Get("test-category")
			if err != nil {
				t.Errorf("Get() failed: %v", err)
				return
			}
			if _, err := cat.Policy.VisibleFields(emptyFacts(cat.Spec)); err != nil {
				t.Errorf("VisibleFields() failed: %v", err)
			}
		}()
		go func(spec *Spec) {
			defer wg.Done()
			if err := reg.Load(spec); err != nil {
				t.Errorf("Load() failed: %v", err)
			}
		}(specs[i])
	}
	wg.Wait()
}

func TestLoadSpecs(t *testing.T) {
	fsys := fstest.MapFS{
		"b.yaml":    {Data: []byte(testSpecYAML)},
		"notes.txt": {Data: []byte("ignored")},
	}
	specs, err := LoadSpecs(fsys)
	if err != nil {
		t.Fatalf("LoadSpecs() failed: %v", err)
	}
	if len(specs) != 1 || specs[0].Key != "test-category" {
		t.Errorf("LoadSpecs() = %v", specs)
	}

	fsys["a.yaml"] = &fstest.MapFile{Data: []byte(testSpecYAML)}
	if _, err := LoadSpecs(fsys); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec for a duplicate key, got %v", err)
	}
}

func TestParseSpecRejectsUnknownKeys(t *testing.T) {
	_, err := ParseSpec([]byte(testSpecYAML + "colour: blue\n"))
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec for an unknown key, got %v", err)
	}
}

func TestBuiltinSpecsCompile(t *testing.T) {
	specs, err := BuiltinSpecs()
	if err != nil {
		t.Fatalf("BuiltinSpecs() failed: %v", err)
	}
	if len(specs) != 7 {
		t.Errorf("expected 7 built-in categories, got %d", len(specs))
	}
	for _, spec := range specs {
		t.Run(spec.Key, func(t *testing.T) {
			reg := NewRegistry(InMemoryStores())
			if err := reg.Load(spec); err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			cat, _ := reg.Get(spec.Key)
			if _, err := cat.Policy.Resolve(emptyFacts(spec)); err != nil {
				t.Errorf("Resolve() on an empty draft failed: %v", err)
			}
		})
	}
}

package form

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lexify/requestforms/category"
)

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	now func() time.Time
}

// WithClock sets the clock used for the offers deadline check.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		c.now = now
	}
}

// Engine is the request form of one category: policy, validation,
// composition and preview over drafts of that category.
type Engine struct {
	category  *category.Category
	validator *Validator
	composer  *Composer
	renderer  *Renderer
}

// NewEngine creates the form engine of cat.
func NewEngine(cat *category.Category, opts ...Option) *Engine {
	cfg := engineConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	v := NewValidator(cat.Spec, cat.Policy, cfg.now)
	return &Engine{
		category:  cat,
		validator: v,
		composer:  NewComposer(cat.Spec, cat.Policy, v),
		renderer:  NewRenderer(cat.Spec, cat.Policy),
	}
}

// Spec returns the category spec.
func (e *Engine) Spec() *category.Spec {
	return e.category.Spec
}

// NewDraft returns an empty draft.
func (e *Engine) NewDraft() *Draft {
	return NewDraft()
}

// Resolve returns the fields visible and required for s.
func (e *Engine) Resolve(s Snapshot) (*category.Visibility, error) {
	return e.category.Policy.Resolve(s.Facts(e.category.Spec))
}

// Validate returns the first unmet requirement of s, or nil.
func (e *Engine) Validate(s Snapshot) error {
	return e.validator.Validate(s)
}

// ValidateAll returns every unmet requirement of s in reporting order.
func (e *Engine) ValidateAll(s Snapshot) ([]*ValidationError, error) {
	return e.validator.ValidateAll(s)
}

// Compose builds the record of a valid draft.
func (e *Engine) Compose(s Snapshot) (*Record, error) {
	return e.composer.Compose(s)
}

// Preview renders s for review.
func (e *Engine) Preview(s Snapshot, user *UserContext) (*PreviewDocument, error) {
	return e.renderer.Render(s, user)
}

// Submitter delivers a composed record and its attachments to the
// persistence boundary.
type Submitter interface {
	Submit(ctx context.Context, rec *Record, files Attachments) (*Receipt, error)
}

// Session binds one draft to an engine and a submitter. At most one
// submission of the draft is in flight at a time.
type Session struct {
	engine    *Engine
	draft     *Draft
	submitter Submitter
	inFlight  atomic.Bool
}

// NewSession starts a session with an empty draft.
func NewSession(engine *Engine, submitter Submitter) *Session {
	return &Session{
		engine:    engine,
		draft:     engine.NewDraft(),
		submitter: submitter,
	}
}

// Draft returns the draft edited in this session.
func (s *Session) Draft() *Draft {
	return s.draft
}

// Engine returns the session's engine.
func (s *Session) Engine() *Engine {
	return s.engine
}

// Submitting reports whether a submission is in flight.
func (s *Session) Submitting() bool {
	return s.inFlight.Load()
}

// Submit validates, composes and sends the draft. A validation failure is
// returned as a *ValidationError without any network call. On success the
// draft is reset unless it was edited while the submission was in flight,
// in which case the edits are kept. On any failure it is left untouched for
// a retry.
// A concurrent call while one is in flight fails with ErrSubmissionInFlight.
func (s *Session) Submit(ctx context.Context) (*Receipt, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	snap, rev := s.draft.getRev()
	if err := s.engine.Validate(snap); err != nil {
		return nil, err
	}
	rec, err := s.engine.Compose(snap)
	if err != nil {
		return nil, err
	}

	receipt, err := s.submitter.Submit(ctx, rec, snap.Files)
	if err != nil {
		return nil, err
	}
	s.draft.resetAt(rev)
	return receipt, nil
}

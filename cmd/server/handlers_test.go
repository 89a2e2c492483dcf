package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lexify/requestforms/category"
	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/internal/auth"
	"github.com/lexify/requestforms/internal/jobs"
	"github.com/lexify/requestforms/internal/storage"
	"github.com/lexify/requestforms/submit"
)

const testCategory = "b2c-sales"

func fixedNow() time.Time {
	return time.Date(2030, 5, 10, 9, 0, 0, 0, time.UTC)
}

type fakeUsers struct {
	accounts map[string]*storage.Account
}

func (f *fakeUsers) Account(ctx context.Context, userID string) (*storage.Account, error) {
	a, ok := f.accounts[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return a, nil
}

type fakeRequests struct {
	mu       sync.Mutex
	requests map[string]*storage.StoredRequest
	fail     error
}

func (f *fakeRequests) Create(ctx context.Context, req storage.NewRequest) (*storage.StoredRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := &storage.StoredRequest{
		ID:        "6f1c9a43-6f44-4b3e-a2a6-2a8a1f3c0001",
		CompanyID: req.CompanyID,
		CreatedBy: req.CreatedBy,
		State:     storage.StatePending,
		Record:    *req.Record,
		Files:     req.Files,
	}
	f.requests[out.ID] = out
	return out, nil
}

func (f *fakeRequests) Get(ctx context.Context, id string) (*storage.StoredRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, storage.ErrRequestNotFound
	}
	return r, nil
}

func (f *fakeRequests) Expire(ctx context.Context, id string, asOf time.Time) (bool, error) {
	return false, nil
}

func (f *fakeRequests) ExpireDue(ctx context.Context, asOf time.Time) (int64, error) {
	return 0, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1"}, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(ctx context.Context) error {
	return errors.New("connection refused")
}

type testEnv struct {
	t          *testing.T
	server     *Server
	http       *httptest.Server
	requests   *fakeRequests
	enqueuer   *fakeEnqueuer
	uploadDir  string
	token      string
	otherToken string
	adminToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	specs, err := category.BuiltinSpecs()
	if err != nil {
		t.Fatal(err)
	}
	registry := category.NewRegistry(category.InMemoryStores())
	if err := registry.LoadAll(specs); err != nil {
		t.Fatal(err)
	}

	uploadDir := t.TempDir()
	files, err := storage.NewFileStore(uploadDir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	users := &fakeUsers{accounts: map[string]*storage.Account{
		"u1": {
			UserID: "u1", CompanyID: "c1", Email: "maija@example.com", Role: "purchaser",
			Context: form.UserContext{
				CompanyName: "Oy Client Ab", BusinessID: "1234567-8", Country: "Finland",
				ContactPersons: []form.ContactPerson{{FirstName: "Maija", LastName: "Virtanen"}},
			},
		},
		"u2": {UserID: "u2", CompanyID: "c2", Email: "other@example.com", Role: "purchaser"},
		"admin": {UserID: "admin", CompanyID: "c1", Email: "admin@example.com", Role: RoleAdmin},
	}}

	issuer := auth.NewIssuer("test-secret", time.Hour)
	env := &testEnv{
		t:         t,
		requests:  &fakeRequests{requests: map[string]*storage.StoredRequest{}},
		enqueuer:  &fakeEnqueuer{},
		uploadDir: uploadDir,
	}
	env.server = NewServer(Deps{
		Registry:  registry,
		Users:     users,
		Requests:  env.requests,
		Files:     files,
		Scheduler: jobs.NewScheduler(env.enqueuer),
		Issuer:    issuer,
		Now:       fixedNow,
	})
	env.http = httptest.NewServer(env.server)
	t.Cleanup(env.http.Close)

	env.token, _ = issuer.Issue("u1", "maija@example.com", "purchaser")
	env.otherToken, _ = issuer.Issue("u2", "other@example.com", "purchaser")
	env.adminToken, _ = issuer.Issue("admin", "admin@example.com", RoleAdmin)
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) engine() *form.Engine {
	cat, err := e.server.Registry.Get(testCategory)
	if err != nil {
		e.t.Fatal(err)
	}
	return form.NewEngine(cat, form.WithClock(fixedNow))
}

func fillB2C(d *form.Draft) {
	d.Set(category.FieldContactPerson, "Maija Virtanen")
	d.Set("need", "Drafting of consumer sales terms for a lump sum fixed price")
	d.Set(category.FieldMaxPrice, "4000")
	d.Toggle("salesChannels", "Online store", true)
	d.Set("productType", "Goods")
	d.Set("targetMarkets", "Finland and Sweden")
	d.Set(category.FieldProviderSize, "Any size")
	d.Set(category.FieldProviderCompanyAge, "Any age")
	d.Set(category.FieldProviderMinimumRating, "Any rating")
	d.Set(category.FieldProviderCountry, "Finland")
	d.Set(category.FieldCurrency, "EUR")
	d.Set(category.FieldAdvanceRetainerFee, "No advance retainer fee")
	d.Set(category.FieldInvoiceType, "Monthly invoicing")
	d.Toggle(category.FieldLanguages, "Finnish", true)
	d.Set(category.FieldOffersDeadline, "2030-05-20")
	d.Set(category.FieldTitle, "Consumer sales terms for our web shop")
	d.SetAgree(true)
}

func validB2CSnapshot() form.Snapshot {
	d := form.NewDraft()
	fillB2C(d)
	return d.Get()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "healthy" || body["categoriesLoaded"] != float64(7) {
		t.Errorf("body = %v", body)
	}

	env.server.DB = failingPinger{}
	if rec := env.do(http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with a failing database = %d", rec.Code)
	}
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/categories/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[struct{ Categories []CategorySummary }](t, rec)
	if len(list.Categories) != 7 || list.Categories[0].Key != "b2c-sales" {
		t.Errorf("categories = %+v", list.Categories)
	}

	rec = env.do(http.MethodGet, "/api/v1/categories/"+testCategory+"/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cat := decode[CategoryResponse](t, rec)
	if cat.Subcategory != "B2C Sales" || len(cat.Stages) != len(category.StageOrder) {
		t.Errorf("category = %+v", cat.CategorySummary)
	}

	if rec := env.do(http.MethodGet, "/api/v1/categories/unknown/", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown category status = %d", rec.Code)
	}
}

func TestPolicyAndValidate(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/v1/categories/" + testCategory

	rec := env.do(http.MethodPost, base+"/policy", "", validB2CSnapshot())
	if rec.Code != http.StatusOK {
		t.Fatalf("policy status = %d: %s", rec.Code, rec.Body)
	}
	vis := decode[struct{ Visible, Required []string }](t, rec)
	if !contains(vis.Required, category.FieldMaxPrice) || contains(vis.Visible, "needOther") {
		t.Errorf("visibility = %+v", vis)
	}

	rec = env.do(http.MethodPost, base+"/validate", "", form.Snapshot{})
	resp := decode[ValidateResponse](t, rec)
	if resp.Valid || resp.Error == nil || resp.Error.Message != "Please select the primary contact person." {
		t.Errorf("empty draft = %+v", resp)
	}
	if len(resp.Errors) < 2 || resp.Errors[0].Message != resp.Error.Message {
		t.Errorf("errors = %+v", resp.Errors)
	}

	rec = env.do(http.MethodPost, base+"/validate", "", validB2CSnapshot())
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d", rec.Code)
	}
	resp = decode[ValidateResponse](t, rec)
	if !resp.Valid || resp.Error != nil || resp.Errors == nil || len(resp.Errors) != 0 {
		t.Errorf("valid draft = %+v", resp)
	}

	if rec := env.do(http.MethodPost, base+"/validate", "", "not a draft"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}
}

func TestPreviewRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/categories/" + testCategory + "/preview"
	body := PreviewRequest{Draft: validB2CSnapshot()}

	if rec := env.do(http.MethodPost, path, "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d", rec.Code)
	}

	rec := env.do(http.MethodPost, path, env.token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	doc := decode[form.PreviewDocument](t, rec)
	client, ok := doc.Section(form.SectionClient)
	if !ok || len(client.Entries) == 0 || client.Entries[0].Value != "Oy Client Ab" {
		t.Errorf("client section = %+v", client)
	}
	pricing, _ := doc.Section(form.SectionPricing)
	if !hasEntry(pricing, "Maximum price", "4000 EUR") {
		t.Errorf("pricing section = %+v", pricing)
	}
}

func TestRuleAdministration(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/v1/categories/" + testCategory + "/rules"

	if rec := env.do(http.MethodGet, base, env.token, nil); rec.Code != http.StatusForbidden {
		t.Errorf("purchaser status = %d, want 403", rec.Code)
	}

	rule := RuleRequest{
		ID:         "subscriptions-background",
		Name:       "Subscriptions need background",
		Expression: `productType == "Subscriptions"`,
		Require:    []string{category.FieldBackground},
	}
	rec := env.do(http.MethodPost, base, env.adminToken, rule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	if rec := env.do(http.MethodPost, base, env.adminToken, rule); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	bad := rule
	bad.ID = "broken"
	bad.Expression = "productType +"
	if rec := env.do(http.MethodPost, base, env.adminToken, bad); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid expression status = %d, want 400", rec.Code)
	}
	if rec := env.do(http.MethodPost, base, env.adminToken, RuleRequest{Expression: "true"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}

	// The new rule takes effect on validation right away.
	d := form.NewDraft()
	fillB2C(d)
	d.Set("productType", "Subscriptions")
	resp := decode[ValidateResponse](t, env.do(http.MethodPost, "/api/v1/categories/"+testCategory+"/validate", "", d.Get()))
	if resp.Valid || resp.Error.Field != category.FieldBackground {
		t.Errorf("validate after rule added = %+v", resp.Error)
	}

	off := false
	rule.Active = &off
	rec = env.do(http.MethodPut, base+"/subscriptions-background", env.adminToken, rule)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}
	resp = decode[ValidateResponse](t, env.do(http.MethodPost, "/api/v1/categories/"+testCategory+"/validate", "", d.Get()))
	if !resp.Valid {
		t.Errorf("inactive rule still applied: %+v", resp.Error)
	}

	list := decode[RulesListResponse](t, env.do(http.MethodGet, base, env.adminToken, nil))
	if len(list.Rules) == 0 {
		t.Error("rule list is empty")
	}

	if rec := env.do(http.MethodDelete, base+"/subscriptions-background", env.adminToken, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, base+"/subscriptions-background", env.adminToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/categories/" + testCategory + "/evaluate"

	rec := env.do(http.MethodPost, path, "", EvaluateRequest{Draft: validB2CSnapshot(), RuleIDs: []string{"b2c-fixed-price"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[EvaluateResponse](t, rec)
	if len(resp.Results) != 1 || !resp.Results[0].Matched {
		t.Errorf("results = %+v", resp.Results)
	}

	if rec := env.do(http.MethodPost, path, "", EvaluateRequest{RuleIDs: []string{"missing"}}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown rule status = %d", rec.Code)
	}

	resp = decode[EvaluateResponse](t, env.do(http.MethodPost, path, "", EvaluateRequest{Draft: validB2CSnapshot()}))
	if len(resp.Results) < 3 {
		t.Errorf("expected every active rule, got %+v", resp.Results)
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	client := submit.NewClient(env.http.URL, submit.WithToken(env.token))
	session := form.NewSession(env.engine(), client)
	fillB2C(session.Draft())
	session.Draft().AddFiles(form.SlotBackground, form.BytesAttachment("current-terms.pdf", "application/pdf", []byte("%PDF-1.7")))
	session.Draft().AddFiles(form.SlotSupplier, form.BytesAttachment("code-of-conduct.pdf", "application/pdf", []byte("%PDF-1.4")))

	receipt, err := session.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if receipt.State != storage.StatePending {
		t.Errorf("receipt = %+v", receipt)
	}

	stored, err := env.requests.Get(context.Background(), receipt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CompanyID != "c1" || stored.Record.RateType != form.RateLumpSum {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Record.Details["maximumPrice"] != float64(4000) {
		t.Errorf("maximumPrice = %#v", stored.Record.Details["maximumPrice"])
	}
	if len(stored.Files) != 2 || stored.Files[0].Slot != "background" || stored.Files[1].OriginalName != "code-of-conduct.pdf" {
		t.Errorf("files = %+v", stored.Files)
	}
	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 2 {
		t.Errorf("%d files on disk, want 2", len(entries))
	}
	if len(env.enqueuer.tasks) != 1 || env.enqueuer.tasks[0].Type() != jobs.TypeExpireRequest {
		t.Errorf("scheduled tasks = %v", env.enqueuer.tasks)
	}

	// The caller's company sees the request, others do not.
	if rec := env.do(http.MethodGet, "/api/requests/"+receipt.ID, env.token, nil); rec.Code != http.StatusOK {
		t.Errorf("owner get status = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/requests/"+receipt.ID, env.otherToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("other company get status = %d", rec.Code)
	}

	if session.Draft().Get().Value(category.FieldTitle) != "" {
		t.Error("draft not reset after a successful submission")
	}
}

func TestCreateRequestRejections(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(rec *form.Record)
		token   func(e *testEnv) string
		status  int
		message string
	}{
		{
			name:    "deadline in the past",
			edit:    func(rec *form.Record) { rec.OffersDeadline = "2030-05-01" },
			status:  http.StatusBadRequest,
			message: "Offers deadline cannot be in the past",
		},
		{
			name:    "unknown contact person",
			edit:    func(rec *form.Record) { rec.PrimaryContactPerson = "Someone Else" },
			status:  http.StatusBadRequest,
			message: "Primary contact person is not a contact person of your company",
		},
		{
			name:    "unknown assignment type",
			edit:    func(rec *form.Record) { rec.AssignmentType = "tax-advice" },
			status:  http.StatusBadRequest,
			message: "Unknown assignment type tax-advice",
		},
		{
			name:    "missing title",
			edit:    func(rec *form.Record) { rec.Title = "" },
			status:  http.StatusBadRequest,
			message: "title is required",
		},
		{
			name:    "no token",
			edit:    func(rec *form.Record) {},
			token:   func(e *testEnv) string { return "" },
			status:  http.StatusUnauthorized,
			message: "unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec, err := env.engine().Compose(validB2CSnapshot())
			if err != nil {
				t.Fatal(err)
			}
			tt.edit(rec)

			token := env.token
			if tt.token != nil {
				token = tt.token(env)
			}
			_, err = submit.NewClient(env.http.URL, submit.WithToken(token)).Submit(context.Background(), rec, form.Attachments{})

			var f *submit.Failure
			if !errors.As(err, &f) {
				t.Fatalf("Submit() = %v, want *submit.Failure", err)
			}
			if f.StatusCode != tt.status || f.Message != tt.message {
				t.Errorf("failure = {%d %q}, want {%d %q}", f.StatusCode, f.Message, tt.status, tt.message)
			}
			if len(env.requests.requests) != 0 {
				t.Error("rejected request was stored")
			}
		})
	}
}

func TestCreateRequestStoreFailureRemovesFiles(t *testing.T) {
	env := newTestEnv(t)
	env.requests.fail = errors.New("disk full")

	rec, err := env.engine().Compose(validB2CSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	files := form.Attachments{Background: []form.Attachment{form.BytesAttachment("a.pdf", "application/pdf", []byte("a"))}}
	_, err = submit.NewClient(env.http.URL, submit.WithToken(env.token)).Submit(context.Background(), rec, files)

	var f *submit.Failure
	if !errors.As(err, &f) || f.StatusCode != http.StatusInternalServerError || f.Message != "failed to store request" {
		t.Fatalf("Submit() = %v", err)
	}
	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 0 {
		t.Errorf("%d orphaned files left", len(entries))
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	user, err := submit.NewClient(env.http.URL, submit.WithToken(env.token)).CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() failed: %v", err)
	}
	if opts := user.ContactOptions(); len(opts) != 1 || opts[0] != "Maija Virtanen" {
		t.Errorf("ContactOptions() = %v", opts)
	}

	if rec := env.do(http.MethodGet, "/api/me", "not-a-token", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d", rec.Code)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func hasEntry(sec form.PreviewSection, label, value string) bool {
	for _, e := range sec.Entries {
		if e.Label == label && e.Value == value {
			return true
		}
	}
	return false
}

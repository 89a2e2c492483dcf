//go:build integration

package storage_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/internal/storage"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "storage_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, _ := container.Host(ctx)
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	db, err := sql.Open("postgres", fmt.Sprintf(
		"host=%s port=%s user=test password=test dbname=storage_test sslmode=disable", host, port.Port()))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	return client
}

type fixture struct {
	users     *storage.PostgresUserStore
	requests  *storage.PostgresRequestStore
	companyID string
	userID    string
}

func newFixture(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		users:    storage.NewPostgresUserStore(db),
		requests: storage.NewPostgresRequestStore(db),
	}

	var err error
	f.companyID, err = f.users.CreateCompany(ctx, "Oy Client Ab", "1234567-8", "Finland")
	if err != nil {
		t.Fatal(err)
	}
	f.userID, err = f.users.CreateUser(ctx, f.companyID, "maija@example.com", "purchaser")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []form.ContactPerson{
		{FirstName: "Maija", LastName: "Virtanen"},
		{FirstName: "Aino", LastName: "Korhonen"},
	} {
		if _, err := f.users.AddContactPerson(ctx, f.companyID, p); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func testRecord(deadline string) *form.Record {
	return &form.Record{
		RequestCategory:       "Help with Contracts",
		RequestSubcategory:    "Contract Review",
		AssignmentType:        "contract-review",
		Title:                 "Review of our sales terms",
		PrimaryContactPerson:  "Maija Virtanen",
		ScopeOfWork:           "Review of a contract for a lump sum fixed price.",
		Currency:              "EUR",
		PaymentRate:           "Lump sum fixed price",
		RateType:              form.RateLumpSum,
		AdvanceRetainerFee:    "No advance retainer fee",
		InvoiceType:           "Monthly invoicing",
		ProviderSize:          "Any size",
		ProviderCompanyAge:    "Any age",
		ProviderMinimumRating: "Any rating",
		ProviderCountry:       "Finland",
		Language:              "English, Finnish",
		OffersDeadline:        deadline,
		Details:               map[string]any{"confidential": true, "counterparty": "Acme Oy", "maximumPrice": int64(5000)},
	}
}

func TestIntegration_Account(t *testing.T) {
	db := setupTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	a, err := f.users.Account(ctx, f.userID)
	if err != nil {
		t.Fatalf("Account() failed: %v", err)
	}
	if a.Context.CompanyName != "Oy Client Ab" || a.Role != "purchaser" {
		t.Errorf("account = %+v", a)
	}
	// Ordered by last name.
	if opts := a.Context.ContactOptions(); len(opts) != 2 || opts[0] != "Aino Korhonen" {
		t.Errorf("ContactOptions() = %v", opts)
	}

	if _, err := f.users.Account(ctx, "not-a-uuid"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIntegration_CreateAndGetRequest(t *testing.T) {
	db := setupTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	files := []*storage.StoredFile{
		{ID: "6f1c9a43-6f44-4b3e-a2a6-2a8a1f3c0001", Slot: "supplier", Position: 0, OriginalName: "coc.pdf", StoredName: "x1.pdf", ContentType: "application/pdf", Size: 10},
		{ID: "6f1c9a43-6f44-4b3e-a2a6-2a8a1f3c0002", Slot: "background", Position: 0, OriginalName: "terms.pdf", StoredName: "x2.pdf", ContentType: "application/pdf", Size: 20},
	}
	created, err := f.requests.Create(ctx, storage.NewRequest{
		CompanyID: f.companyID,
		CreatedBy: f.userID,
		Record:    testRecord("2030-05-20"),
		Files:     files,
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.State != storage.StatePending {
		t.Errorf("State = %q", created.State)
	}

	got, err := f.requests.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Record.OffersDeadline != "2030-05-20" || got.Record.Language != "English, Finnish" {
		t.Errorf("record = %+v", got.Record)
	}
	if got.Record.Details["maximumPrice"] != float64(5000) || got.Record.Details["counterparty"] != "Acme Oy" {
		t.Errorf("details = %v", got.Record.Details)
	}
	if len(got.Files) != 2 || got.Files[0].OriginalName != "terms.pdf" {
		t.Errorf("files = %+v", got.Files)
	}

	if _, err := f.requests.Get(ctx, "6f1c9a43-6f44-4b3e-a2a6-2a8a1f3cffff"); !errors.Is(err, storage.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestIntegration_ExpireRequests(t *testing.T) {
	db := setupTestDB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	create := func(deadline string) string {
		t.Helper()
		r, err := f.requests.Create(ctx, storage.NewRequest{
			CompanyID: f.companyID,
			CreatedBy: f.userID,
			Record:    testRecord(deadline),
		})
		if err != nil {
			t.Fatal(err)
		}
		return r.ID
	}
	past := create("2030-05-19")
	today := create("2030-05-20")
	future := create("2030-06-01")

	asOf := time.Date(2030, 5, 20, 12, 0, 0, 0, time.UTC)

	// A request stays open through its deadline day.
	changed, err := f.requests.Expire(ctx, today, asOf)
	if err != nil || changed {
		t.Errorf("Expire(today) = %v, %v", changed, err)
	}
	changed, err = f.requests.Expire(ctx, past, asOf)
	if err != nil || !changed {
		t.Errorf("Expire(past) = %v, %v", changed, err)
	}
	// Expiring twice is a no-op.
	if changed, _ := f.requests.Expire(ctx, past, asOf); changed {
		t.Error("second Expire() changed the state again")
	}

	n, err := f.requests.ExpireDue(ctx, asOf.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ExpireDue() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireDue() = %d, want 1", n)
	}

	for id, want := range map[string]string{
		past:   storage.StateExpired,
		today:  storage.StateExpired,
		future: storage.StatePending,
	} {
		r, err := f.requests.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if r.State != want {
			t.Errorf("request %s state = %q, want %q", id, r.State, want)
		}
	}
}

func TestIntegration_CachedUserStore(t *testing.T) {
	db := setupTestDB(t)
	f := newFixture(t, db)
	rdb := setupRedis(t)
	ctx := context.Background()

	cached := storage.NewCachedUserStore(f.users, rdb, time.Minute)

	first, err := cached.Account(ctx, f.userID)
	if err != nil {
		t.Fatalf("Account() failed: %v", err)
	}
	if n, _ := rdb.Exists(ctx, "lexify:account:"+f.userID).Result(); n != 1 {
		t.Fatal("account was not cached")
	}

	// A contact person added after caching is not seen until invalidation.
	if _, err := f.users.AddContactPerson(ctx, f.companyID, form.ContactPerson{FirstName: "Eero", LastName: "Laine"}); err != nil {
		t.Fatal(err)
	}
	second, _ := cached.Account(ctx, f.userID)
	if len(second.Context.ContactPersons) != len(first.Context.ContactPersons) {
		t.Errorf("cached account changed: %d contacts", len(second.Context.ContactPersons))
	}

	if err := cached.Invalidate(ctx, f.userID); err != nil {
		t.Fatal(err)
	}
	third, _ := cached.Account(ctx, f.userID)
	if len(third.Context.ContactPersons) != 3 {
		t.Errorf("after Invalidate() got %d contacts, want 3", len(third.Context.ContactPersons))
	}
}

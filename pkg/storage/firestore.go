package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every account gets a document under "accounts" with a "consumptions" and an
// "invoices" sub-collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if strings.Contains(f.database, "/") {
		return fmt.Errorf("invalid firestore database: %s", f.database)
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(account, name string) (*firestore.CollectionRef, error) {
	if account == "" {
		return nil, ErrEmptyAccount
	}
	return f.client.Collection("accounts").Doc(account).Collection(name), nil
}

// docJSON reads the "json" blob field every document carries.
func docJSON(ctx context.Context, doc *firestore.DocumentSnapshot, account string, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.String("account", account), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID), slog.String("account", account))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.String("account", account), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document (id=%s): %w", doc.Ref.ID, err)
	}
	return nil
}

// bulkSet writes all docs through a BulkWriter and waits for every result.
func (f *FirestoreProvider) bulkSet(ctx context.Context, coll *firestore.CollectionRef, docs map[string]map[string]interface{}) error {
	if len(docs) == 0 {
		return nil
	}
	bw := f.client.BulkWriter(ctx)
	jobs := make(map[string]*firestore.BulkWriterJob, len(docs))
	for id, data := range docs {
		job, err := bw.Set(coll.Doc(id), data)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue %s: %w", id, err)
		}
		jobs[id] = job
	}
	bw.End()
	for id, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to write %s: %w", id, err)
		}
	}
	return nil
}

// UpsertConsumptions adds or updates samples in the "consumptions" collection.
// The document ID is the RFC3339 UTC time of the sample for efficient range queries.
func (f *FirestoreProvider) UpsertConsumptions(ctx context.Context, account string, samples []types.ConsumptionSample) error {
	coll, err := f.getCollection(account, "consumptions")
	if err != nil {
		return err
	}
	docs := make(map[string]map[string]interface{}, len(samples))
	for _, s := range samples {
		if s.Time.IsZero() {
			return fmt.Errorf("%w: %s", ErrUnparsedTime, s.Datetime)
		}
		jsonBytes, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal consumption: %w", err)
		}
		docs[s.Time.UTC().Format(time.RFC3339)] = map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": s.Time,
		}
	}
	if err := f.bulkSet(ctx, coll, docs); err != nil {
		return fmt.Errorf("failed to upsert consumptions: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "upserted consumptions", slog.String("account", account), slog.Int("count", len(docs)))
	return nil
}

// GetConsumptionHistory retrieves samples within [start, end).
func (f *FirestoreProvider) GetConsumptionHistory(ctx context.Context, account string, start, end time.Time) ([]types.ConsumptionSample, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(account, "consumptions")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var samples []types.ConsumptionSample
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating consumptions: %w", err)
		}

		var s types.ConsumptionSample
		if err := docJSON(ctx, doc, account, &s); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid consumption doc id %s: %w", doc.Ref.ID, err)
		}
		s.Time = ts
		samples = append(samples, s)
	}
	return samples, nil
}

// GetLatestConsumptionTime retrieves the time of the last stored sample or
// zero when there is none.
func (f *FirestoreProvider) GetLatestConsumptionTime(ctx context.Context, account string) (time.Time, error) {
	coll, err := f.getCollection(account, "consumptions")
	if err != nil {
		return time.Time{}, err
	}
	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest consumption doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid consumption doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}

func invoiceDocID(inv types.Invoice) string {
	return strings.ReplaceAll(inv.Number, "/", "_")
}

// UpsertInvoices adds or updates invoices in the "invoices" collection keyed by
// invoice number. Invoices without a number are skipped.
func (f *FirestoreProvider) UpsertInvoices(ctx context.Context, account string, invoices []types.Invoice) error {
	coll, err := f.getCollection(account, "invoices")
	if err != nil {
		return err
	}
	docs := make(map[string]map[string]interface{}, len(invoices))
	for _, inv := range invoices {
		id := invoiceDocID(inv)
		if id == "" {
			log.Ctx(ctx).WarnContext(ctx, "skipping invoice without number", slog.String("account", account))
			continue
		}
		jsonBytes, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("failed to marshal invoice: %w", err)
		}
		docs[id] = map[string]interface{}{
			"json":      string(jsonBytes),
			"issueDate": inv.IssueDate,
			"paid":      inv.Paid(),
		}
	}
	if err := f.bulkSet(ctx, coll, docs); err != nil {
		return fmt.Errorf("failed to upsert invoices: %w", err)
	}
	return nil
}

// GetInvoices retrieves every stored invoice, newest first.
func (f *FirestoreProvider) GetInvoices(ctx context.Context, account string) ([]types.Invoice, error) {
	coll, err := f.getCollection(account, "invoices")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy("issueDate", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var invoices []types.Invoice
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating invoices: %w", err)
		}
		var inv types.Invoice
		if err := docJSON(ctx, doc, account, &inv); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// GetSyncState reads the "sync" field of the account document. A missing
// document returns the zero state.
func (f *FirestoreProvider) GetSyncState(ctx context.Context, account string) (types.SyncState, error) {
	if account == "" {
		return types.SyncState{}, ErrEmptyAccount
	}
	doc, err := f.client.Collection("accounts").Doc(account).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SyncState{}, nil
		}
		return types.SyncState{}, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	val, err := doc.DataAt("sync")
	if err != nil {
		// account exists only as the parent of its collections
		return types.SyncState{}, nil
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "account sync not string", slog.String("account", account))
		return types.SyncState{}, fmt.Errorf("account %s sync not string", account)
	}
	var state types.SyncState
	if err := json.Unmarshal([]byte(jsonStr), &state); err != nil {
		return types.SyncState{}, fmt.Errorf("failed to unmarshal sync state %s: %w", account, err)
	}
	return state, nil
}

// SetSyncState merges the sync state into the account document.
func (f *FirestoreProvider) SetSyncState(ctx context.Context, account string, state types.SyncState) error {
	if account == "" {
		return ErrEmptyAccount
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}
	_, err = f.client.Collection("accounts").Doc(account).Set(ctx, map[string]interface{}{
		"sync": string(stateJSON),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", account, err)
	}
	return nil
}

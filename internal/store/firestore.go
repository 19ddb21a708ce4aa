package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
)

// visitDoc is the document shape of a visit in Firestore.
type visitDoc struct {
	DoctorName             string     `firestore:"doctorName"`
	Hospital               string     `firestore:"hospital"`
	Nurse                  string     `firestore:"nurse"`
	Note                   string     `firestore:"note"`
	Date                   string     `firestore:"date"`
	Time                   string     `firestore:"time"`
	Status                 string     `firestore:"status"`
	Recurrence             string     `firestore:"recurrence"`
	LastNotifiedOccurrence *time.Time `firestore:"lastNotifiedOccurrence"`
	CreatedAt              time.Time  `firestore:"createdAt"`
	UpdatedAt              time.Time  `firestore:"updatedAt"`
}

// Firestore is a VisitStore over a single Firestore collection.
type Firestore struct {
	client     *firestore.Client
	collection string
}

// FirestoreOptions selects the project, credentials and collection.
type FirestoreOptions struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// NewFirestore initializes a Firebase app and its Firestore client.
func NewFirestore(ctx context.Context, opts FirestoreOptions) (*Firestore, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	var conf *firebase.Config
	if opts.ProjectID != "" {
		conf = &firebase.Config{ProjectID: opts.ProjectID}
	}

	app, err := firebase.NewApp(ctx, conf, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}

	coll := opts.Collection
	if coll == "" {
		coll = "visits"
	}
	return &Firestore{client: client, collection: coll}, nil
}

func (f *Firestore) col() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

func (f *Firestore) ListScheduled(ctx context.Context) ([]model.VisitRecord, error) {
	q := f.col().
		Where("status", "==", string(model.StatusScheduled)).
		OrderBy("date", firestore.Asc).
		OrderBy("time", firestore.Asc)
	return f.collect(q.Documents(ctx))
}

func (f *Firestore) List(ctx context.Context) ([]model.VisitRecord, error) {
	q := f.col().OrderBy("date", firestore.Asc).OrderBy("time", firestore.Asc)
	return f.collect(q.Documents(ctx))
}

func (f *Firestore) Get(ctx context.Context, id string) (model.VisitRecord, error) {
	snap, err := f.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return model.VisitRecord{}, ErrNotFound
		}
		return model.VisitRecord{}, err
	}
	return fromSnapshot(snap)
}

func (f *Firestore) Create(ctx context.Context, v model.VisitRecord) (model.VisitRecord, error) {
	if v.ID == "" {
		v.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	v.LastNotifiedOccurrence = nil

	if _, err := f.col().Doc(v.ID).Create(ctx, toDoc(v)); err != nil {
		return model.VisitRecord{}, err
	}
	return v, nil
}

// Update writes the editable fields only, leaving the marker to the dispatcher.
// Firestore updates fail with NotFound when the document is missing.
func (f *Firestore) Update(ctx context.Context, v model.VisitRecord) (model.VisitRecord, error) {
	_, err := f.col().Doc(v.ID).Update(ctx, []firestore.Update{
		{Path: "doctorName", Value: v.DoctorName},
		{Path: "hospital", Value: v.Hospital},
		{Path: "nurse", Value: v.Nurse},
		{Path: "note", Value: v.Note},
		{Path: "date", Value: v.Date},
		{Path: "time", Value: v.Time},
		{Path: "status", Value: string(v.Status)},
		{Path: "recurrence", Value: v.Recurrence.String()},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return model.VisitRecord{}, ErrNotFound
		}
		return model.VisitRecord{}, err
	}
	return f.Get(ctx, v.ID)
}

func (f *Firestore) Delete(ctx context.Context, id string) error {
	_, err := f.col().Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

// CompareAndSetMarker re-reads the marker inside a transaction; Firestore
// retries the function when the document changes under it.
func (f *Firestore) CompareAndSetMarker(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error) {
	ref := f.col().Doc(id)
	var swapped bool

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		swapped = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc visitDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if !markersEqual(doc.LastNotifiedOccurrence, expected) {
			return nil
		}
		swapped = true
		return tx.Update(ref, []firestore.Update{
			{Path: "lastNotifiedOccurrence", Value: model.MarkerTime(next)},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, ErrNotFound
		}
		return false, err
	}
	return swapped, nil
}

func (f *Firestore) ClearMarker(ctx context.Context, id string) error {
	_, err := f.col().Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastNotifiedOccurrence", Value: nil},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) collect(it *firestore.DocumentIterator) ([]model.VisitRecord, error) {
	defer it.Stop()

	var visits []model.VisitRecord
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		v, err := fromSnapshot(snap)
		if err != nil {
			appLog.Error("firestore: skipping unreadable visit document", err, "visit_id", snap.Ref.ID)
			continue
		}
		visits = append(visits, v)
	}
	return visits, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (model.VisitRecord, error) {
	var doc visitDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.VisitRecord{}, err
	}
	rec, err := model.ParseRecurrence(doc.Recurrence)
	if err != nil {
		return model.VisitRecord{}, err
	}
	v := model.VisitRecord{
		ID:         snap.Ref.ID,
		DoctorName: doc.DoctorName,
		Hospital:   doc.Hospital,
		Nurse:      doc.Nurse,
		Note:       doc.Note,
		Date:       doc.Date,
		Time:       doc.Time,
		Status:     model.Status(doc.Status),
		Recurrence: rec,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	if doc.LastNotifiedOccurrence != nil {
		t := model.MarkerTime(*doc.LastNotifiedOccurrence)
		v.LastNotifiedOccurrence = &t
	}
	return v, nil
}

func toDoc(v model.VisitRecord) visitDoc {
	return visitDoc{
		DoctorName:             v.DoctorName,
		Hospital:               v.Hospital,
		Nurse:                  v.Nurse,
		Note:                   v.Note,
		Date:                   v.Date,
		Time:                   v.Time,
		Status:                 string(v.Status),
		Recurrence:             v.Recurrence.String(),
		LastNotifiedOccurrence: v.LastNotifiedOccurrence,
		CreatedAt:              v.CreatedAt,
		UpdatedAt:              v.UpdatedAt,
	}
}

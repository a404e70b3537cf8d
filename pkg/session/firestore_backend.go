package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFirestoreCollection = "llminster_sessions"

// errFirestoreConflict aborts a transaction without retrying it.
var errFirestoreConflict = errors.New("firestore sequence conflict")

// firestoreSession is the per-session document holding the sequence counter.
type firestoreSession struct {
	LastSequence int64     `firestore:"last_sequence"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// firestoreTurn is the stored form of a Turn.
type firestoreTurn struct {
	ID             string    `firestore:"id"`
	SessionID      string    `firestore:"session_id"`
	SequenceNumber int64     `firestore:"sequence_number"`
	Timestamp      time.Time `firestore:"timestamp"`
	Speaker        string    `firestore:"speaker"`
	Content        string    `firestore:"content"`
}

// FirestoreBackend implements EventLog on Cloud Firestore.
// Layout: <collection>/<session-id> holds last_sequence, and
// <collection>/<session-id>/turns/<zero-padded sequence> holds each turn.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

// NewFirestoreBackend connects to Firestore.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewFirestoreBackendFromClient(client, cfg.Collection), nil
}

// NewFirestoreBackendFromClient wraps an existing client.
func NewFirestoreBackendFromClient(client *firestore.Client, collection string) *FirestoreBackend {
	if collection == "" {
		collection = defaultFirestoreCollection
	}
	return &FirestoreBackend{client: client, collection: collection}
}

// turnDocID keeps document IDs in sequence order when listed lexically.
func turnDocID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

func toFirestoreTurn(t *Turn) firestoreTurn {
	return firestoreTurn{
		ID:             t.ID,
		SessionID:      t.SessionID,
		SequenceNumber: t.SequenceNumber,
		Timestamp:      t.Timestamp.UTC(),
		Speaker:        t.Speaker,
		Content:        t.Content,
	}
}

func (ft firestoreTurn) toTurn() *Turn {
	return &Turn{
		ID:             ft.ID,
		SessionID:      ft.SessionID,
		SequenceNumber: ft.SequenceNumber,
		Timestamp:      ft.Timestamp,
		Speaker:        ft.Speaker,
		Content:        ft.Content,
	}
}

// Append stores a turn inside a transaction that also advances last_sequence.
func (b *FirestoreBackend) Append(ctx context.Context, turn *Turn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}

	sessRef := b.client.Collection(b.collection).Doc(turn.SessionID)
	turnRef := sessRef.Collection("turns").Doc(turnDocID(turn.SequenceNumber))

	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current firestoreSession
		snap, err := tx.Get(sessRef)
		switch {
		case err == nil:
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		if turn.SequenceNumber <= current.LastSequence {
			return errFirestoreConflict
		}

		next := firestoreSession{LastSequence: turn.SequenceNumber, UpdatedAt: time.Now().UTC()}
		if err := tx.Set(sessRef, next); err != nil {
			return err
		}
		return tx.Create(turnRef, toFirestoreTurn(turn))
	}, firestore.MaxAttempts(5))

	if errors.Is(err, errFirestoreConflict) {
		return ErrSequenceConflict
	}
	if status.Code(err) == codes.AlreadyExists {
		return ErrSequenceConflict
	}
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Turns queries the session's turn subcollection in sequence order.
func (b *FirestoreBackend) Turns(ctx context.Context, sessionID string, fromSequence int64) ([]*Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}

	query := b.client.Collection(b.collection).Doc(sessionID).Collection("turns").
		Where("sequence_number", ">=", fromSequence).
		OrderBy("sequence_number", firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	turns := make([]*Turn, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate turns: %w", err)
		}

		var ft firestoreTurn
		if err := doc.DataTo(&ft); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, ft.toTurn())
	}

	return turns, nil
}

// Close closes the Firestore client.
func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

package issuance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/issuance"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/jmerrifield20/examcert/internal/signer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	fs := issuance.NewFileStore(t.TempDir())

	issued := scoring.Issued{Hash: "0xH1", Locator: "cid1", Scores: scores.Scored()}
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sess := &issuance.Session{
		ID:            uuid.New(),
		EnrollmentID:  uuid.New(),
		ParticipantID: uuid.New(),
		Scores:        scores,
		Phase:         issuance.Failed{Kind: issuance.KindUserDeclined, Err: errors.New("declined"), Issued: &issued},
		Issued:        &issued,
		Authorization: &signer.Authorization{Token: "tok", Signer: "k1", Hash: "0xH1", Locator: "cid1", ExpiresAt: created.Add(time.Hour)},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	require.NoError(t, fs.Save(ctx, sess))

	got, err := fs.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.EnrollmentID, got.EnrollmentID)
	require.Equal(t, scores, got.Scores)
	require.Equal(t, issued, *got.Issued)
	require.Equal(t, "tok", got.Authorization.Token)
	require.True(t, got.Authorization.ExpiresAt.Equal(sess.Authorization.ExpiresAt))

	failed, ok := got.Phase.(issuance.Failed)
	require.True(t, ok)
	require.Equal(t, issuance.KindUserDeclined, failed.Kind)
	require.EqualError(t, failed.Err, "declined")
	require.True(t, failed.Retryable())

	list, err := fs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, fs.Delete(ctx, sess.ID))
	_, err = fs.Get(ctx, sess.ID)
	require.ErrorIs(t, err, issuance.ErrSessionNotFound)
}

func TestFileStore_listEmptyDir(t *testing.T) {
	fs := issuance.NewFileStore(t.TempDir() + "/missing")
	list, err := fs.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestSaga_withFileStore(t *testing.T) {
	h := newHarness(t)
	fs := issuance.NewFileStore(t.TempDir())
	h.saga = issuance.New(h.backend, h.signer, h.ledger, fs, issuance.Config{}, zap.NewNop())
	h.signer.results = []signer.Status{signer.Declined}
	ctx := context.Background()

	sess, err := h.saga.Start(ctx, request())
	require.Error(t, err)

	// A later CLI run picks the session up from disk.
	resumed := issuance.New(h.backend, h.signer, h.ledger, issuance.NewFileStore(fs.Dir()), issuance.Config{}, zap.NewNop())
	got, err := resumed.Retry(ctx, sess.ID)
	require.NoError(t, err)
	require.IsType(t, issuance.Succeeded{}, got.Phase)
	require.Equal(t, 1, h.backend.submitCalls)
}

func TestSession_cancellable(t *testing.T) {
	issued := scoring.Issued{Hash: "0xH1", Locator: "cid1"}
	cases := []struct {
		phase issuance.Phase
		want  bool
	}{
		{issuance.Idle{}, false},
		{issuance.Submitting{}, true},
		{issuance.Anchoring{Issued: issued}, false},
		{issuance.Reconciling{Issued: issued}, false},
		{issuance.Failed{Kind: issuance.KindUserDeclined, Issued: &issued}, true},
		{issuance.Failed{Kind: issuance.KindSubmissionFailure}, true},
	}
	for _, tc := range cases {
		t.Run(tc.phase.Name(), func(t *testing.T) {
			s := &issuance.Session{ID: uuid.New(), Phase: tc.phase}
			require.Equal(t, tc.want, s.Cancellable())
		})
	}
}

func TestFileStore_interruptedSubmittingIsCancellable(t *testing.T) {
	store := issuance.NewFileStore(t.TempDir())
	saga := issuance.New(nil, nil, nil, store, issuance.Config{}, zap.NewNop())
	ctx := context.Background()

	// What a process killed inside SubmitScore leaves behind.
	sess := &issuance.Session{ID: uuid.New(), Scores: scores, Phase: issuance.Submitting{}}
	require.NoError(t, store.Save(ctx, sess))

	got, err := saga.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, got.Cancellable())
	_, err = saga.Retry(ctx, sess.ID)
	require.ErrorIs(t, err, issuance.ErrNotRetryable)

	require.NoError(t, saga.Cancel(ctx, sess.ID))
	_, err = saga.Get(ctx, sess.ID)
	require.ErrorIs(t, err, issuance.ErrSessionNotFound)
}

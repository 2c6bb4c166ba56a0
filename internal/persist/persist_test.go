package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/storage/memory"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, rec crawler.JudgmentRecord) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

func (m *mockStore) Close() error {
	return m.Called().Error(0) //nolint:wrapcheck
}

func TestPersistReturnsStoreID(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(false)
	p := New(store, nil)

	id, created, err := p.Persist(context.Background(), crawler.JudgmentRecord{CaseNumber: "SCJ 1/2021"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "memory-1", id)
	require.Len(t, store.Records(), 1)
}

func TestPersistTreatsDuplicateAsPersisted(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(true)
	p := New(store, nil)
	rec := crawler.JudgmentRecord{CaseNumber: "SCJ 1/2021", JudgmentDate: "2021-07-03"}

	_, _, err := p.Persist(context.Background(), rec)
	require.NoError(t, err)
	id, created, err := p.Persist(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, created)
	require.Empty(t, id)
	require.Len(t, store.Records(), 1)
}

func TestPersistClassifiesStoreErrorsAsTransient(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset by peer")
	store := &mockStore{}
	store.On("Insert", mock.Anything, mock.AnythingOfType("crawler.JudgmentRecord")).Return("", cause)

	_, _, err := New(store, nil).Persist(context.Background(), crawler.JudgmentRecord{})
	require.ErrorIs(t, err, crawler.ErrTransient)
	require.ErrorIs(t, err, cause)
	require.False(t, crawler.IsFatal(err))
	store.AssertExpectations(t)
}

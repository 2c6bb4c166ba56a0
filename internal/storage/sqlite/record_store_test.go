package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("rec-%d", s.n), nil
}

func record(caseNumber, date string) crawler.JudgmentRecord {
	return crawler.JudgmentRecord{
		CaseNumber:       caseNumber,
		CaseTitle:        "Doe v Roe",
		JudgmentDate:     date,
		FileName:         "judgment.pdf",
		Content:          "text",
		PageCount:        3,
		Metadata:         crawler.ArtifactMetadata{FormatVersion: "1.4"},
		SourcePageNumber: 1,
		ExtractedAt:      time.Unix(1700000000, 0),
		DownloadURL:      "https://court.example/judgment.pdf",
	}
}

func TestInsertAppendOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, ":memory:", false, &seqIDs{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	id1, err := store.Insert(ctx, record("SCJ 1/2021", "2021-07-03"))
	require.NoError(t, err)
	id2, err := store.Insert(ctx, record("SCJ 1/2021", "2021-07-03"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestInsertDedupe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "judgments.db"), true, &seqIDs{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	_, err = store.Insert(ctx, record("SCJ 1/2021", "2021-07-03"))
	require.NoError(t, err)
	_, err = store.Insert(ctx, record("SCJ 1/2021", "2021-07-03"))
	require.ErrorIs(t, err, crawler.ErrDuplicateRecord)
	_, err = store.Insert(ctx, record("SCJ 1/2021", "2021-07-04"))
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", false, &seqIDs{})
	require.Error(t, err)
}

func TestPingAfterClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "judgments.db"), false, &seqIDs{})
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))

	require.NoError(t, store.Close())
	require.Error(t, store.Ping(ctx))
}

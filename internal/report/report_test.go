package report

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/store"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

func TestBuild(t *testing.T) {
	ctx := context.Background()
	sink, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "crawl.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	p := store.NewPersister(sink, dataset.Students, nil)
	require.NoError(t, p.Reset(ctx))

	records := []types.Record{
		{"code": "S1", "id": float64(7), "name": "a", "gradeName": "2021", "collegeName": "Rail"},
		{"code": "S2", "id": float64(3), "name": "b", "gradeName": "2021", "collegeName": "Rail"},
		{"code": "S3", "id": float64(12), "name": "c", "gradeName": "2022", "collegeName": ""},
	}
	_, err = p.PersistBatch(ctx, records)
	require.NoError(t, err)

	rep, err := Build(ctx, sink, dataset.Students)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Rows)
	require.Equal(t, "3", rep.Min)
	require.Equal(t, "12", rep.Max)
	require.Len(t, rep.Groups, 2)

	grades := rep.Groups[0]
	require.Equal(t, "grade_name", grades.Column)
	require.Equal(t, []store.GroupCount{{Value: "2021", Count: 2}, {Value: "2022", Count: 1}}, grades.Counts)
	require.Equal(t, 1, rep.Groups[1].Nulls())

	out := rep.Render()
	require.Contains(t, out, "students")
	require.Contains(t, out, "3 .. 12")
	require.Contains(t, out, "(empty)")
	require.Contains(t, out, "66.7%")
}

func TestBuildMissingTable(t *testing.T) {
	ctx := context.Background()
	sink, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "crawl.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	_, err = Build(ctx, sink, dataset.Activities)
	require.Error(t, err)
}

func TestFold(t *testing.T) {
	counts := make([]store.GroupCount, MaxGroups+3)
	for i := range counts {
		counts[i] = store.GroupCount{Value: fmt.Sprint(i), Count: 2}
	}
	folded := fold(counts)
	require.Len(t, folded, MaxGroups+1)
	require.Equal(t, store.GroupCount{Value: "(3 more)", Count: 6}, folded[MaxGroups])

	require.Equal(t, counts[:2], fold(counts[:2]))
}

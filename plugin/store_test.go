package plugin

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStore_InsertAssignsSortableID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, "AlphaPlugin")
	require.NoError(t, err)
	second, err := s.Insert(ctx, "BetaPlugin")
	require.NoError(t, err)

	assert.Len(t, first.ID, 36)
	assert.Less(t, first.ID, second.ID)

	recs, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AlphaPlugin", recs[0].ClassName)
	assert.Equal(t, "BetaPlugin", recs[1].ClassName)
}

func TestStore_InsertDoesNotDeduplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "HelloPlugin")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "HelloPlugin")
	require.NoError(t, err)

	n, err := s.Count(ctx, "HelloPlugin")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	names, err := s.ClassNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"HelloPlugin"}, names)
}

func TestStore_DeleteByClassRemovesAllRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, class := range []string{"HelloPlugin", "HelloPlugin", "OtherPlugin"} {
		_, err := s.Insert(ctx, class)
		require.NoError(t, err)
	}

	n, err := s.DeleteByClass(ctx, "HelloPlugin")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	count, err := s.Count(ctx, "HelloPlugin")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.Count(ctx, "OtherPlugin")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	n, err = s.DeleteByClass(ctx, "MissingPlugin")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Replace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "OldPlugin")
	require.NoError(t, err)

	err = s.Replace(ctx, []Record{
		{ID: "0190a000-0000-7000-8000-000000000001", ClassName: "APlugin"},
		{ID: "0190a000-0000-7000-8000-000000000002", ClassName: "BPlugin"},
	})
	require.NoError(t, err)

	names, err := s.ClassNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"APlugin", "BPlugin"}, names)

	recs, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0190a000-0000-7000-8000-000000000001", recs[0].ID)
}

func TestStore_ActivationProperties(t *testing.T) {
	classes := []string{"APlugin", "BPlugin", "CPlugin"}

	rapid.Check(t, func(rt *rapid.T) {
		s := newTestStore(t)
		ctx := context.Background()
		model := map[string]int64{}

		ops := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 30).Draw(rt, "ops")
		for _, op := range ops {
			class := classes[op%len(classes)]
			if op < len(classes) {
				_, err := s.Insert(ctx, class)
				require.NoError(rt, err)
				model[class]++
			} else {
				n, err := s.DeleteByClass(ctx, class)
				require.NoError(rt, err)
				require.Equal(rt, model[class], n)
				model[class] = 0
			}
		}

		var want []string
		for _, class := range classes {
			n, err := s.Count(ctx, class)
			require.NoError(rt, err)
			require.Equal(rt, model[class], n)
			if n > 0 {
				want = append(want, class)
			}
		}

		got, err := s.ClassNames(ctx)
		require.NoError(rt, err)
		sort.Strings(got)
		require.Equal(rt, want, got)
	})
}

package pvstore

import (
	"context"
	"testing"

	"sync-profile/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablePrepopulated(t *testing.T) {
	tbl := NewTable("A:AvgFreq", "A:MinFreq")
	assert.Equal(t, 2, tbl.Len())

	m, err := tbl.Get("A:AvgFreq")
	require.NoError(t, err)
	assert.Nil(t, m.Value)

	_, err = tbl.Get("B:AvgFreq")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTablePublishAndList(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()

	require.NoError(t, tbl.Publish(ctx, models.Metric{Name: "B:AvgFreq", Subject: "B", Value: models.Float(2)}))
	require.NoError(t, tbl.Publish(ctx, models.Metric{Name: "A:AvgFreq", Subject: "A", Value: models.Float(1)}))
	require.NoError(t, tbl.Publish(ctx, models.Metric{Name: "A:AvgFreq", Subject: "A", Value: models.Float(3)}))

	all := tbl.List("")
	require.Len(t, all, 2)
	assert.Equal(t, "A:AvgFreq", all[0].Name)
	assert.Equal(t, 3.0, *all[0].Value)

	onlyB := tbl.List("B")
	require.Len(t, onlyB, 1)
	assert.Equal(t, "B:AvgFreq", onlyB[0].Name)
}

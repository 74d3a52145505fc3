package data

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

func TestJobFilterNumbersPlaceholdersInOrder(t *testing.T) {
	var f jobFilter
	assert.Empty(t, f.where())

	f.add("provider = ?", "v8")
	f.add("nome ILIKE '%' || ? || '%'", "ana")
	f.add("id = ANY(?)", []int64{1, 2})

	assert.Equal(t, " WHERE provider = $1 AND nome ILIKE '%' || $2 || '%' AND id = ANY($3)", f.where())
	assert.Equal(t, []any{"v8", "ana", []int64{1, 2}}, f.args)
}

func TestSortJobsByAge(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := []model.Job{
		{ID: 4, CreatedAt: base.Add(time.Minute)},
		{ID: 3, CreatedAt: base},
		{ID: 1, CreatedAt: base},
		{ID: 2, CreatedAt: base.Add(-time.Minute)},
	}
	sortJobsByAge(jobs)

	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	assert.Equal(t, []int64{2, 1, 3, 4}, ids)
}

func TestScanJobColumnsMatchList(t *testing.T) {
	assert.Len(t, jobColumnList, 22)
	assert.Contains(t, jobColumnsJ, "j.id, j.provider")
	assert.Contains(t, jobColumns, "result_key, created_at, updated_at")
}

func TestClaimQueryReturnsQualifiedColumns(t *testing.T) {
	assert.Contains(t, claimQuery, "FOR UPDATE SKIP LOCKED")
	assert.True(t, strings.HasSuffix(claimQuery, "RETURNING "+jobColumnsJ))
	assert.Equal(t, len(jobColumnList), strings.Count(claimQuery[strings.LastIndex(claimQuery, "RETURNING"):], "j."))
}

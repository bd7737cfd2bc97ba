package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sqlagent/internal/agent"
	"sqlagent/internal/config"
	"sqlagent/internal/models"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakePipeline returns a canned result or error.
type fakePipeline struct {
	result *agent.Result
	err    error
	delay  time.Duration
}

func (p *fakePipeline) Run(ctx context.Context, question, table string) (*agent.Result, error) {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.QueryRun{}))
	return db
}

func goodResult() *agent.Result {
	return &agent.Result{
		Question:         "best sales day",
		EnhancedQuestion: "Which day had the highest total sales amount?",
		Table:            "sales_data",
		SQL:              "SELECT Sale_Date, SUM(Sales_Amount) AS Total FROM sales_data GROUP BY Sale_Date ORDER BY Total DESC LIMIT 1",
		Rows:             []map[string]any{{"Sale_Date": "2023-10-20", "Total": 3850.75}},
		Summary:          "The best day was **2023-10-20**.",
		Attempts:         1,
		Duration:         120 * time.Millisecond,
	}
}

func setupService(t *testing.T, pipeline Pipeline) (QueryService, *gorm.DB, string) {
	db := setupTestDB(t)
	dir := t.TempDir()
	logger := setupTestLogger()

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath:   dir,
		CreateDirs: true,
	}, logger)
	require.NoError(t, err)

	paths := config.Paths{Queries: "sql_queries", Output: "output"}
	svc := NewQueryServiceFromDeps(db, pipeline, store, paths, logger)
	return svc, db, dir
}

func TestAskCompletesRun(t *testing.T) {
	svc, _, dir := setupService(t, &fakePipeline{result: goodResult()})

	run, err := svc.Ask(context.Background(), "best sales day", "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, "sales_data", run.Table)
	assert.Equal(t, 1, run.RowCount)
	assert.Contains(t, run.Summary, "2023-10-20")
	assert.NotNil(t, run.CompletedAt)

	// Artifacts are written alongside the run record
	data, err := os.ReadFile(filepath.Join(dir, "sql_queries", "last_query.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- best sales day\n")

	summary, err := os.ReadFile(filepath.Join(dir, "output", "last_summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# Summary for: best sales day")
}

func TestArtifactServedAfterAsk(t *testing.T) {
	svc, _, _ := setupService(t, &fakePipeline{result: goodResult()})

	_, err := svc.Ask(context.Background(), "best sales day", "")
	require.NoError(t, err)

	reader, err := svc.Artifact(context.Background(), "last_query.sql")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- best sales day\n")

	_, err = svc.Artifact(context.Background(), "nope.txt")
	assert.Error(t, err)
}

func TestAskRecordsFailure(t *testing.T) {
	svc, _, _ := setupService(t, &fakePipeline{err: fmt.Errorf("pipeline exploded")})

	run, err := svc.Ask(context.Background(), "best sales day", "")
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "pipeline exploded")
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc, _, _ := setupService(t, &fakePipeline{result: goodResult()})

	_, err := svc.Ask(context.Background(), "", "")
	assert.Error(t, err)
}

func TestSubmitRunsInBackground(t *testing.T) {
	svc, _, _ := setupService(t, &fakePipeline{result: goodResult()})

	run, err := svc.Submit(context.Background(), "best sales day", "")
	require.NoError(t, err)
	require.NotZero(t, run.ID)

	// Poll until the background processor finishes
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(context.Background(), run.ID)
		require.NoError(t, err)
		if got.IsTerminal() {
			assert.Equal(t, models.StatusCompleted, got.Status)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background run did not finish in time")
}

func TestGetUnknownRun(t *testing.T) {
	svc, _, _ := setupService(t, &fakePipeline{result: goodResult()})

	_, err := svc.Get(context.Background(), 999)
	assert.ErrorContains(t, err, "не найден")
}

func TestListFiltersByStatus(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	runs := []models.QueryRun{
		{Question: "q1", Status: models.StatusCompleted},
		{Question: "q2", Status: models.StatusFailed},
		{Question: "q3", Status: models.StatusCompleted},
	}
	for i := range runs {
		require.NoError(t, db.Create(&runs[i]).Error)
	}

	status := models.StatusCompleted
	list, err := svc.List(context.Background(), ListRunParams{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)
	assert.Len(t, list.Runs, 2)
}

func TestListSearchesQuestions(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	runs := []models.QueryRun{
		{Question: "Total sales by region", Status: models.StatusCompleted},
		{Question: "Employee headcount", Status: models.StatusCompleted},
	}
	for i := range runs {
		require.NoError(t, db.Create(&runs[i]).Error)
	}

	list, err := svc.List(context.Background(), ListRunParams{Search: "SALES"})
	require.NoError(t, err)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "Total sales by region", list.Runs[0].Question)
}

func TestCancelPendingRun(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{Question: "slow question", Status: models.StatusPending}
	require.NoError(t, db.Create(&run).Error)

	require.NoError(t, svc.Cancel(context.Background(), run.ID))

	got, err := svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.Status)
}

func TestCancelCompletedRunFails(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{Question: "done", Status: models.StatusCompleted}
	require.NoError(t, db.Create(&run).Error)

	assert.Error(t, svc.Cancel(context.Background(), run.ID))
}

func TestDeleteRun(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{Question: "old", Status: models.StatusCompleted}
	require.NoError(t, db.Create(&run).Error)

	require.NoError(t, svc.Delete(context.Background(), run.ID))

	_, err := svc.Get(context.Background(), run.ID)
	assert.Error(t, err)
}

func TestResultWorkbookForCompletedRun(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{
		Question:  "best sales day",
		Table: "sales_data",
		Status:    models.StatusCompleted,
		RowCount:  1,
		ResultSample: models.Rows{
			{"Sale_Date": "2023-10-20", "Total": 3850.75},
		},
	}
	require.NoError(t, db.Create(&run).Error)

	reader, filename, err := svc.ResultWorkbook(context.Background(), run.ID)
	require.NoError(t, err)
	defer reader.Close()
	assert.Contains(t, filename, ".xlsx")

	f, err := excelize.OpenReader(reader)
	require.NoError(t, err)
	defer f.Close()

	cell, err := f.GetCellValue("Results", "A2")
	require.NoError(t, err)
	assert.Equal(t, "2023-10-20", cell)

	// The workbook is also persisted for later downloads
	got, err := svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, got.HasResultFile())
}

func TestResultWorkbookRequiresCompletion(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{Question: "pending", Status: models.StatusPending}
	require.NoError(t, db.Create(&run).Error)

	_, _, err := svc.ResultWorkbook(context.Background(), run.ID)
	assert.Error(t, err)
}

func TestResultFileURLAfterWorkbookSaved(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{
		Question: "best sales day",
		Status:   models.StatusCompleted,
		RowCount: 1,
		ResultSample: models.Rows{
			{"Sale_Date": "2023-10-20", "Total": 3850.75},
		},
	}
	require.NoError(t, db.Create(&run).Error)

	// No link before the workbook has been generated and stored
	_, err := svc.ResultFileURL(context.Background(), run.ID)
	assert.Error(t, err)

	reader, _, err := svc.ResultWorkbook(context.Background(), run.ID)
	require.NoError(t, err)
	reader.Close()

	url, err := svc.ResultFileURL(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"), "got %q", url)
	assert.Contains(t, url, ".xlsx")
}

func TestResultFileURLRequiresCompletion(t *testing.T) {
	svc, db, _ := setupService(t, &fakePipeline{result: goodResult()})

	run := models.QueryRun{Question: "pending", Status: models.StatusPending}
	require.NoError(t, db.Create(&run).Error)

	_, err := svc.ResultFileURL(context.Background(), run.ID)
	assert.Error(t, err)
}

func TestListArtifactsThroughService(t *testing.T) {
	svc, _, _ := setupService(t, &fakePipeline{result: goodResult()})

	_, err := svc.Ask(context.Background(), "best sales day", "")
	require.NoError(t, err)

	infos, err := svc.Artifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "last_query.sql", infos[0].Name)
}

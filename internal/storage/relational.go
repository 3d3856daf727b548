package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// jsonColumn stores an arbitrary JSON-serializable value in a single
// column.
type jsonColumn map[string]interface{}

func (j jsonColumn) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *jsonColumn) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("jsonColumn: type assertion to []byte failed")
	}
	return json.Unmarshal(b, j)
}

// kvRow is the relational backend's generic key/value table.
type kvRow struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     string `gorm:"column:value"`
	UpdatedAt time.Time
}

func (kvRow) TableName() string { return "kv" }

// runRow is one PipelineRun.
type runRow struct {
	ID             string `gorm:"primaryKey;column:id"`
	PipelineName   string `gorm:"column:pipeline_name;index:idx_runs_pipeline_started"`
	Status         string `gorm:"column:status"`
	StartedAt      time.Time `gorm:"column:started_at;index:idx_runs_pipeline_started"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	TriggerType    string `gorm:"column:trigger_type"`
	TriggerConfig  jsonColumn `gorm:"column:trigger_config;type:jsonb"`
	ErrorText      string `gorm:"column:error_text"`
	Tasks          []taskRow `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (runRow) TableName() string { return "runs" }

// taskRow is one TaskExecution belonging to a runRow.
type taskRow struct {
	ID             uint `gorm:"primaryKey;autoIncrement;column:id"`
	RunID          string `gorm:"column:run_id;index"`
	TaskID         string `gorm:"column:task_id"`
	TaskName       string `gorm:"column:task_name"`
	Status         string `gorm:"column:status"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	Attempts       int `gorm:"column:attempts"`
	ResultOutput   string `gorm:"column:result_output"`
	ResultError    string `gorm:"column:result_error"`
	ResultMetadata jsonColumn `gorm:"column:result_metadata;type:jsonb"`
}

func (taskRow) TableName() string { return "tasks" }

// RelationalStore is a State Store backend on Postgres via GORM.
type RelationalStore struct {
	db *gorm.DB
}

// NewRelationalStore wraps an already-connected *gorm.DB. Schema setup is
// expected to have run via RunMigrations beforehand.
func NewRelationalStore(db *gorm.DB) *RelationalStore {
	return &RelationalStore{db: db}
}

func (s *RelationalStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row kvRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *RelationalStore) Set(ctx context.Context, key, value string) error {
	row := kvRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *RelationalStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&kvRow{}, "key = ?", key).Error
}

func (s *RelationalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var rows []kvRow
	if err := s.db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}

func (s *RelationalStore) SavePipelineRun(ctx context.Context, run *pipeline.PipelineRun) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toRunRow(run)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "completed_at", "error_text"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upserting run: %w", err)
		}

		if err := tx.Where("run_id = ?", run.ID).Delete(&taskRow{}).Error; err != nil {
			return fmt.Errorf("clearing task rows: %w", err)
		}
		for _, te := range run.Tasks {
			tr := toTaskRow(run.ID, te)
			if err := tx.Create(&tr).Error; err != nil {
				return fmt.Errorf("inserting task row: %w", err)
			}
		}
		return nil
	})
}

func (s *RelationalStore) GetPipelineRun(ctx context.Context, id string) (*pipeline.PipelineRun, error) {
	var row runRow
	err := s.db.WithContext(ctx).Preload("Tasks").First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline run %s: %w", id, err)
	}
	return fromRunRow(&row), nil
}

func (s *RelationalStore) GetPipelineRuns(ctx context.Context, pipelineName string, limit int) ([]*pipeline.PipelineRun, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}
	var rows []runRow
	err := s.db.WithContext(ctx).Preload("Tasks").
		Where("pipeline_name = ?", pipelineName).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	runs := make([]*pipeline.PipelineRun, len(rows))
	for i := range rows {
		runs[i] = fromRunRow(&rows[i])
	}
	return runs, nil
}

func (s *RelationalStore) CleanupOldRuns(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&runRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup old runs: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func toRunRow(run *pipeline.PipelineRun) runRow {
	triggerCfg := jsonColumn{}
	switch run.Trigger.Type {
	case pipeline.TriggerCron:
		if run.Trigger.Cron != nil {
			triggerCfg["expression"] = run.Trigger.Cron.Expression
			triggerCfg["timezone"] = run.Trigger.Cron.Timezone
		}
	case pipeline.TriggerWebhook:
		if run.Trigger.Webhook != nil {
			triggerCfg["path"] = run.Trigger.Webhook.Path
			triggerCfg["method"] = run.Trigger.Webhook.Method
		}
	}
	return runRow{
		ID:            run.ID,
		PipelineName:  run.PipelineName,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		TriggerType:   string(run.Trigger.Type),
		TriggerConfig: triggerCfg,
		ErrorText:     run.Error,
	}
}

func fromRunRow(row *runRow) *pipeline.PipelineRun {
	run := &pipeline.PipelineRun{
		ID:           row.ID,
		PipelineName: row.PipelineName,
		Status:       pipeline.RunState(row.Status),
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
		Error:        row.ErrorText,
		Trigger:      pipeline.Trigger{Type: pipeline.TriggerType(row.TriggerType)},
	}
	switch run.Trigger.Type {
	case pipeline.TriggerCron:
		run.Trigger.Cron = &pipeline.CronConfig{
			Expression: fmt.Sprint(row.TriggerConfig["expression"]),
			Timezone:   fmt.Sprint(row.TriggerConfig["timezone"]),
		}
	case pipeline.TriggerWebhook:
		run.Trigger.Webhook = &pipeline.WebhookConfig{
			Path:   fmt.Sprint(row.TriggerConfig["path"]),
			Method: fmt.Sprint(row.TriggerConfig["method"]),
		}
	}
	for _, tr := range row.Tasks {
		run.Tasks = append(run.Tasks, fromTaskRow(tr))
	}
	return run
}

func toTaskRow(runID string, te pipeline.TaskExecution) taskRow {
	tr := taskRow{
		RunID:     runID,
		TaskID:    te.TaskID,
		TaskName:  te.TaskName,
		Status:    string(te.Status),
		StartedAt: te.StartedAt,
		CompletedAt: te.CompletedAt,
		Attempts:  te.Attempts,
	}
	if te.Result != nil {
		tr.ResultError = te.Result.Error
		if te.Result.Output != nil {
			tr.ResultOutput = fmt.Sprint(te.Result.Output)
		}
		tr.ResultMetadata = jsonColumn(te.Result.Metadata)
	}
	return tr
}

func fromTaskRow(tr taskRow) pipeline.TaskExecution {
	te := pipeline.TaskExecution{
		TaskID:      tr.TaskID,
		TaskName:    tr.TaskName,
		Status:      pipeline.TaskState(tr.Status),
		StartedAt:   tr.StartedAt,
		CompletedAt: tr.CompletedAt,
		Attempts:    tr.Attempts,
	}
	if tr.ResultOutput != "" || tr.ResultError != "" || len(tr.ResultMetadata) > 0 {
		te.Result = &pipeline.PluginResult{
			Success:  tr.ResultError == "",
			Output:   tr.ResultOutput,
			Error:    tr.ResultError,
			Metadata: tr.ResultMetadata,
		}
	}
	return te
}

package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clinsight-ai/platform/pkg/common/models"
)

var ErrRunNotFound = errors.New("evolution run not found")

type runModel struct {
	ID           string         `gorm:"primaryKey;column:id"`
	Identifier   string         `gorm:"column:identifier;index"`
	Status       string         `gorm:"column:status"`
	ErrorMessage string         `gorm:"column:error_message"`
	Summary      datatypes.JSON `gorm:"column:summary"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	StartedAt    *time.Time     `gorm:"column:started_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at"`
}

func (runModel) TableName() string {
	return "evolution_runs"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&runModel{})
}

func (r *Repository) Create(ctx context.Context, model *runModel) error {
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *Repository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*runModel, error) {
	var model runModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &model, result.Error
}

func (r *Repository) ListByIdentifier(ctx context.Context, identifier string, limit int) ([]runModel, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if identifier != "" {
		query = query.Where("identifier = ?", identifier)
	}
	var records []runModel
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func runToDomain(model *runModel) models.EvolutionRun {
	return models.EvolutionRun{
		ID:          model.ID,
		Identifier:  model.Identifier,
		Status:      model.Status,
		Error:       model.ErrorMessage,
		CreatedAt:   model.CreatedAt,
		StartedAt:   model.StartedAt,
		CompletedAt: model.CompletedAt,
	}
}

func summaryJSON(counts map[string]int) datatypes.JSON {
	if len(counts) == 0 {
		return nil
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

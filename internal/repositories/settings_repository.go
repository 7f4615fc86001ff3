package repositories

import (
	"context"
	"fmt"

	"whatsapp-hub/internal/models"

	"gorm.io/gorm"
)

type SettingsRepository struct {
	db    *gorm.DB
	retry RetryPolicy
}

func (r *SettingsRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// GetOrCreate devolve as configurações da empresa, criando-as com defaults na primeira leitura.
func (r *SettingsRepository) GetOrCreate(ctx context.Context, defaults models.Settings) (*models.Settings, error) {
	var settings models.Settings
	err := r.retry.Do(ctx, func() error {
		settings = models.Settings{}
		err := r.conn(ctx).Where(models.Settings{CompanyID: defaults.CompanyID}).
			Attrs(defaults).FirstOrCreate(&settings).Error
		if err == nil {
			return nil
		}
		// outra requisição pode ter criado a linha ao mesmo tempo
		settings = models.Settings{}
		if errFirst := r.conn(ctx).Where("company_id = ?", defaults.CompanyID).First(&settings).Error; errFirst == nil {
			return nil
		}
		return fmt.Errorf("error loading settings: %w", err)
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings *models.Settings) error {
	return r.retry.Do(ctx, func() error {
		return r.conn(ctx).Save(settings).Error
	})
}

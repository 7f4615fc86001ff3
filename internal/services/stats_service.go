package services

import (
	"context"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/repositories"
)

const (
	defaultStatsWindow = 7 * 24 * time.Hour
	maxStatsWindow     = 366 * 24 * time.Hour
	dayLayout          = "2006-01-02"
)

type StatsService struct {
	store *repositories.Store
	now   func() time.Time
}

func NewStatsService(store *repositories.Store) *StatsService {
	return &StatsService{store: store, now: time.Now}
}

// Compute agrega as mensagens da empresa em [from, to) com quebra diária em UTC.
// Sem janela usa os últimos 7 dias; janelas maiores que 366 dias são cortadas no início.
func (s *StatsService) Compute(ctx context.Context, companyID, sessionID string, from, to time.Time) (*models.Stats, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", models.ErrInvalidPayload)
	}
	if to.IsZero() {
		to = s.now()
	}
	to = to.UTC()
	if from.IsZero() {
		from = to.Add(-defaultStatsWindow)
	}
	from = from.UTC()
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", models.ErrInvalidPayload)
	}
	if to.Sub(from) > maxStatsWindow {
		from = to.Add(-maxStatsWindow)
	}

	stats := &models.Stats{From: from, To: to}
	days := map[string]*models.DailyStats{}
	for d := truncateDay(from); d.Before(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		stats.Daily = append(stats.Daily, models.DailyStats{Date: key})
	}
	for i := range stats.Daily {
		days[stats.Daily[i].Date] = &stats.Daily[i]
	}

	active := map[uint]struct{}{}
	err := s.store.Messages.ScanWindow(ctx, companyID, sessionID, from, to, func(row repositories.StatRow) {
		active[row.ContactID] = struct{}{}
		day := days[row.Timestamp.UTC().Format(dayLayout)]
		if row.FromMe {
			stats.Sent++
			if day != nil {
				day.Sent++
			}
			if row.IsAIGenerated {
				stats.AIAssisted++
				if day != nil {
					day.AIAssisted++
				}
			}
			return
		}
		stats.Received++
		if day != nil {
			day.Received++
		}
	})
	if err != nil {
		return nil, err
	}
	stats.ActiveConversations = int64(len(active))
	return stats, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

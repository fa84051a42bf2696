package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfman30/salon-booking-bot/internal/availability"
	"github.com/wolfman30/salon-booking-bot/internal/booking"
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Catalog reads the tenant's service list and opening hours.
type Catalog struct {
	db queryer
}

func NewCatalog(db queryer) *Catalog {
	if db == nil {
		panic("conversation: catalog db required")
	}
	return &Catalog{db: db}
}

var _ CatalogReader = (*Catalog)(nil)

// ListServices returns the active services ordered by name.
func (c *Catalog) ListServices(ctx context.Context, tenantID uuid.UUID) ([]booking.Service, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(short_description, ''), duration_min, price::float8
		FROM services
		WHERE tenant_id = $1 AND is_active
		ORDER BY name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list services: %w", err)
	}
	defer rows.Close()

	var out []booking.Service
	for rows.Next() {
		var svc booking.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.ShortDescription, &svc.DurationMinutes, &svc.Price); err != nil {
			return nil, fmt.Errorf("conversation: scan service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// OpeningHours merges the working hours of all active staff per weekday.
func (c *Catalog) OpeningHours(ctx context.Context, tenantID uuid.UUID) ([]DayHours, error) {
	rows, err := c.db.Query(ctx, `
		SELECT wh.weekday, (EXTRACT(EPOCH FROM wh.start_time) / 60)::int, (EXTRACT(EPOCH FROM wh.end_time) / 60)::int
		FROM working_hours wh
		JOIN staff s ON s.id = wh.staff_id
		WHERE s.tenant_id = $1 AND s.is_active
		ORDER BY wh.weekday, wh.start_time`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("conversation: query opening hours: %w", err)
	}
	defer rows.Close()

	byDay := map[int][]availability.WorkingHours{}
	for rows.Next() {
		var day int
		var w availability.WorkingHours
		if err := rows.Scan(&day, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, fmt.Errorf("conversation: scan opening hours: %w", err)
		}
		byDay[day] = append(byDay[day], w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: read opening hours: %w", err)
	}

	out := make([]DayHours, 0, len(byDay))
	for day, windows := range byDay {
		out = append(out, DayHours{Weekday: day, Windows: mergeWindows(windows)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

// mergeWindows unions overlapping or touching ranges.
func mergeWindows(in []availability.WorkingHours) []availability.WorkingHours {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]availability.WorkingHours(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinute < sorted[j].StartMinute })

	out := []availability.WorkingHours{sorted[0]}
	for _, w := range sorted[1:] {
		last := &out[len(out)-1]
		if w.StartMinute <= last.EndMinute {
			if w.EndMinute > last.EndMinute {
				last.EndMinute = w.EndMinute
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

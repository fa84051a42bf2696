package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/salon-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-bot/internal/tenancy"
	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

const (
	ConfirmationTemplate = "appointment_confirm_morning"

	reminderLeadFrom = 55 * time.Minute
	reminderLeadTo   = 60 * time.Minute
)

// Button id prefixes understood by the inbound confirmation handler.
const (
	ConfirmPrefix = "confirm_appt_"
	CancelPrefix  = "cancel_appt_"
	ModifyPrefix  = "modify_appt_"
)

// Sender is the outbound channel.
type Sender interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
	SendButtons(ctx context.Context, creds whatsapp.Credentials, to, body string, buttons []whatsapp.Button) (string, error)
	SendTemplate(ctx context.Context, creds whatsapp.Credentials, to, name, language string, params []string) (string, error)
}

// TenantLister yields the tenants the jobs iterate over.
type TenantLister interface {
	ListActive(ctx context.Context) ([]tenancy.Tenant, error)
}

// Report summarises one job run.
type Report struct {
	Job        string `json:"job"`
	Candidates int    `json:"candidates"`
	Sent       int    `json:"sent"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// Jobs holds the confirmation and reminder runs. Each run is safe to repeat:
// an appointment with a marker is never messaged again.
type Jobs struct {
	store   Store
	sender  Sender
	tenants TenantLister
	logger  *logging.Logger
	metrics *metrics.NotificationMetrics
}

func NewJobs(store Store, sender Sender, tenants TenantLister, logger *logging.Logger, m *metrics.NotificationMetrics) *Jobs {
	if store == nil || sender == nil || tenants == nil {
		panic("notify: store, sender and tenants are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Jobs{store: store, sender: sender, tenants: tenants, logger: logger, metrics: m}
}

// TomorrowWindow is tomorrow's local midnight-to-midnight range.
func TomorrowWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// RunConfirmations asks clients with pending appointments tomorrow to confirm.
func (j *Jobs) RunConfirmations(ctx context.Context, now time.Time) (Report, error) {
	started := time.Now()
	report := Report{Job: TypeConfirmation}
	defer func() { j.metrics.ObserveJob(TypeConfirmation, time.Since(started).Seconds()) }()

	tenants, err := j.tenants.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("notify: list tenants: %w", err)
	}
	for _, t := range tenants {
		loc := t.Location()
		from, to := TomorrowWindow(now, loc)
		due, err := j.store.PendingForConfirmation(ctx, t.ID, from.UTC(), to.UTC())
		if err != nil {
			j.logger.Error("notify: load confirmation candidates failed", "tenant_id", t.ID, "error", err)
			continue
		}
		for _, appt := range due {
			report.Candidates++
			j.deliver(ctx, &report, t, appt, TypeConfirmation, func() error {
				return j.sendConfirmation(ctx, t, appt, loc)
			})
		}
	}
	j.logReport(report)
	return report, nil
}

// RunReminders sends a reminder for confirmed appointments starting in 55-60 minutes.
func (j *Jobs) RunReminders(ctx context.Context, now time.Time) (Report, error) {
	started := time.Now()
	report := Report{Job: TypeReminder1h}
	defer func() { j.metrics.ObserveJob(TypeReminder1h, time.Since(started).Seconds()) }()

	tenants, err := j.tenants.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("notify: list tenants: %w", err)
	}
	from, to := now.Add(reminderLeadFrom).UTC(), now.Add(reminderLeadTo).UTC()
	for _, t := range tenants {
		due, err := j.store.ConfirmedStartingBetween(ctx, t.ID, from, to)
		if err != nil {
			j.logger.Error("notify: load reminder candidates failed", "tenant_id", t.ID, "error", err)
			continue
		}
		loc, wording := t.Location(), copyFor(t.LanguageCode())
		for _, appt := range due {
			report.Candidates++
			j.deliver(ctx, &report, t, appt, TypeReminder1h, func() error {
				_, err := j.sender.SendText(ctx, t.Credentials(), appt.ClientPhone, reminderText(wording, appt, loc))
				return err
			})
		}
	}
	j.logReport(report)
	return report, nil
}

// deliver checks the marker, sends, then appends the marker. A failed send
// leaves no marker so the next run retries.
func (j *Jobs) deliver(ctx context.Context, report *Report, t tenancy.Tenant, appt DueAppointment, kind string, send func() error) {
	log := j.logger.With("tenant_id", t.ID, "appointment_id", appt.ID, "notification_type", kind)

	done, err := j.store.HasMarker(ctx, appt.ID, kind)
	if err != nil {
		report.Failed++
		j.metrics.ObserveSend(kind, "error")
		log.Error("notify: marker check failed", "error", err)
		return
	}
	if done {
		report.Skipped++
		j.metrics.ObserveSend(kind, "skipped")
		return
	}
	if err := send(); err != nil {
		report.Failed++
		j.metrics.ObserveSend(kind, "error")
		log.Error("notify: send failed", "error", err)
		return
	}
	inserted, err := j.store.AddMarker(ctx, appt.ID, kind, channelWhatsApp)
	if err != nil {
		log.Error("notify: sent but marker not recorded", "error", err)
	} else if !inserted {
		log.Warn("notify: marker already present after send")
	}
	report.Sent++
	j.metrics.ObserveSend(kind, "sent")
	log.Info("notify: notification sent")
}

func (j *Jobs) sendConfirmation(ctx context.Context, t tenancy.Tenant, appt DueAppointment, loc *time.Location) error {
	creds, language := t.Credentials(), t.LanguageCode()
	wording := copyFor(language)
	id := appt.ID.String()
	_, err := j.sender.SendButtons(ctx, creds, appt.ClientPhone, confirmationText(wording, appt, loc), []whatsapp.Button{
		{ID: ConfirmPrefix + id, Title: wording.confirm},
		{ID: CancelPrefix + id, Title: wording.cancel},
		{ID: ModifyPrefix + id, Title: wording.change},
	})
	if err == nil || !whatsapp.IsOutsideWindow(err) {
		return err
	}
	j.logger.Info("notify: outside messaging window, using template", "appointment_id", appt.ID)
	_, err = j.sender.SendTemplate(ctx, creds, appt.ClientPhone, ConfirmationTemplate, language, []string{
		templateName(wording, appt.ClientName),
		appt.StartAt.In(loc).Format("15:04"),
		appt.ServiceName,
	})
	return err
}

func (j *Jobs) logReport(r Report) {
	j.logger.Info("notify: job finished", "job", r.Job, "candidates", r.Candidates, "sent", r.Sent,
		"skipped", r.Skipped, "failed", r.Failed)
}

// ParseButtonID splits a confirmation button id into its action prefix and
// appointment id.
func ParseButtonID(id string) (string, uuid.UUID, bool) {
	for _, prefix := range []string{ConfirmPrefix, CancelPrefix, ModifyPrefix} {
		if rest, ok := strings.CutPrefix(id, prefix); ok {
			apptID, err := uuid.Parse(rest)
			if err != nil {
				return "", uuid.Nil, false
			}
			return prefix, apptID, true
		}
	}
	return "", uuid.Nil, false
}

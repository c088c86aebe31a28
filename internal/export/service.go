package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

const sheet = "Events"

// Service turns completed jobs into an XLSX workbook, one row per extracted event.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

var headers = []string{
	"Title",
	"Start",
	"Timezone",
	"Venue",
	"Venue Address",
	"Resolved Address",
	"Latitude",
	"Longitude",
	"Location Confidence",
	"Recurrence",
	"Organizer",
	"Description",
	"QR Payload",
	"Job ID",
	"Source",
}

// EventsXLSX renders every event of every completed job. Pending, running and
// failed jobs are skipped.
func (s *Service) EventsXLSX(label string, jobs []entity.Job) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, job := range jobs {
		if job.Status != constants.JobStatusCompleted || job.Result == nil {
			continue
		}
		for _, ev := range job.Result.Events {
			if ev.StructuredEvent == nil {
				continue
			}
			se := ev.StructuredEvent
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(sheet, cell, v)
			}
			write(1, se.Title)
			write(2, se.StartDateTime)
			write(3, se.Timezone)
			write(4, se.VenueName)
			write(5, se.VenueAddress)
			if loc := ev.ResolvedLocation; loc != nil && loc.Confidence > 0 {
				write(6, loc.FormattedAddress)
				write(7, loc.Coordinates.Lat())
				write(8, loc.Coordinates.Lon())
				write(9, loc.Confidence)
			}
			write(10, recurrence(se))
			write(11, se.Organizer)
			write(12, truncate(se.Description, 140))
			write(13, ev.QRPayload)
			write(14, job.ID)
			write(15, job.Source)
			row++
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 32) // title
	_ = f.SetColWidth(sheet, "B", "C", 20)
	_ = f.SetColWidth(sheet, "D", "F", 36) // venue + addresses
	_ = f.SetColWidth(sheet, "G", "I", 12)
	_ = f.SetColWidth(sheet, "J", "K", 24)
	_ = f.SetColWidth(sheet, "L", "L", 48) // description
	_ = f.SetColWidth(sheet, "M", "O", 36)
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"label", label,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func recurrence(se *entity.StructuredEvent) string {
	if !se.IsRecurring {
		return ""
	}
	parts := []string{se.RecurrenceFrequency}
	if se.RecurrenceInterval != nil && *se.RecurrenceInterval > 1 {
		parts = append(parts, fmt.Sprintf("every %d", *se.RecurrenceInterval))
	}
	if len(se.RecurrenceDays) > 0 {
		parts = append(parts, strings.Join(se.RecurrenceDays, ","))
	}
	if se.RecurrenceEnd != "" {
		parts = append(parts, "until "+se.RecurrenceEnd)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

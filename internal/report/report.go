// Package report produces user and driver exports: plain-text listings
// for in-chat display and xlsx workbooks for download. Pure reads, no
// mutation.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/halmstad/cargo-dispatch-bot/internal/models"
)

const timeLayout = "2006-01-02 15:04"

// GroupNamer resolves a group id to a display name. Dangling references
// left behind by deleted groups must degrade to something readable.
type GroupNamer func(id int64) string

func groupLabel(id *int64, name GroupNamer) string {
	if id == nil {
		return "unspecified"
	}
	return name(*id)
}

// UsersText renders every user as a chat-friendly listing.
func UsersText(users []models.User) string {
	if len(users) == 0 {
		return "No users to export"
	}

	var sb strings.Builder
	sb.WriteString("Users:\n\n")
	for _, u := range users {
		fmt.Fprintf(&sb, "ID: %d\n", u.ID)
		fmt.Fprintf(&sb, "Username: @%s\n", u.Username)
		fmt.Fprintf(&sb, "Name: %s\n", u.DisplayName())
		fmt.Fprintf(&sb, "Role: %s\n", u.Role)
		fmt.Fprintf(&sb, "Phone: %s\n", u.Phone)
		fmt.Fprintf(&sb, "Registered: %s\n", u.CreatedAt.Format(timeLayout))
		sb.WriteString(strings.Repeat("─", 30) + "\n")
	}
	return sb.String()
}

// DriversText renders every driver as a chat-friendly listing.
func DriversText(drivers []models.Driver, name GroupNamer) string {
	if len(drivers) == 0 {
		return "No drivers to export"
	}

	var sb strings.Builder
	sb.WriteString("Drivers:\n\n")
	for _, d := range drivers {
		fmt.Fprintf(&sb, "ID: %d\n", d.UserID)
		fmt.Fprintf(&sb, "Name: %s\n", d.FullName)
		fmt.Fprintf(&sb, "Phone: %s\n", d.Phone)
		fmt.Fprintf(&sb, "Group: %s\n", groupLabel(d.GroupID, name))
		fmt.Fprintf(&sb, "Username: @%s\n", d.Username)
		sb.WriteString(strings.Repeat("─", 30) + "\n")
	}
	return sb.String()
}

// UsersWorkbook builds an xlsx export of every user. The returned
// filename carries an export timestamp.
func UsersWorkbook(users []models.User) (*excelize.File, string, error) {
	headers := []string{"ID", "Username", "First name", "Last name", "Role", "Phone", "Registered"}
	widths := []float64{10, 15, 15, 15, 10, 15, 20}

	f, sheet, err := newWorkbook("Users", headers, widths, len(users))
	if err != nil {
		return nil, "", err
	}

	for i, u := range users {
		row := i + 2
		username := ""
		if u.Username != "" {
			username = "@" + u.Username
		}
		cells := []any{u.ID, username, u.FirstName, u.LastName, string(u.Role), u.Phone, u.CreatedAt.Format(timeLayout)}
		if err := setRow(f, sheet, row, cells); err != nil {
			return nil, "", err
		}
	}

	return f, exportFilename("users"), nil
}

// DriversWorkbook builds an xlsx export of every driver.
func DriversWorkbook(drivers []models.Driver, name GroupNamer) (*excelize.File, string, error) {
	headers := []string{"ID", "Username", "Full name", "Phone", "Group", "Registered"}
	widths := []float64{10, 15, 25, 15, 15, 20}

	f, sheet, err := newWorkbook("Drivers", headers, widths, len(drivers))
	if err != nil {
		return nil, "", err
	}

	for i, d := range drivers {
		row := i + 2
		username := ""
		if d.Username != "" {
			username = "@" + d.Username
		}
		cells := []any{d.UserID, username, d.FullName, d.Phone, groupLabel(d.GroupID, name), d.CreatedAt.Format(timeLayout)}
		if err := setRow(f, sheet, row, cells); err != nil {
			return nil, "", err
		}
	}

	return f, exportFilename("drivers"), nil
}

// newWorkbook creates a single-sheet workbook with a bold centered
// header row, fixed column widths and thin borders around the data area.
func newWorkbook(sheet string, headers []string, widths []float64, rows int) (*excelize.File, string, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    thinBorders(),
	})
	if err != nil {
		return nil, "", err
	}
	cellStyle, err := f.NewStyle(&excelize.Style{Border: thinBorders()})
	if err != nil {
		return nil, "", err
	}

	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetCellValue(sheet, col+"1", h); err != nil {
			return nil, "", err
		}
		if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return nil, "", err
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, "", err
	}
	if rows > 0 {
		if err := f.SetCellStyle(sheet, "A2", fmt.Sprintf("%s%d", lastCol, rows+1), cellStyle); err != nil {
			return nil, "", err
		}
	}

	return f, sheet, nil
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	for i, v := range cells {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v); err != nil {
			return err
		}
	}
	return nil
}

func thinBorders() []excelize.Border {
	sides := []string{"left", "right", "top", "bottom"}
	borders := make([]excelize.Border, 0, len(sides))
	for _, s := range sides {
		borders = append(borders, excelize.Border{Type: s, Style: 1, Color: "000000"})
	}
	return borders
}

func exportFilename(prefix string) string {
	return fmt.Sprintf("%s_export_%s.xlsx", prefix, time.Now().Format("20060102_150405"))
}

// Package records reads the list of affected clients exported from the
// RADIUS/ISE accounting report.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrej220/authclear/pkg/remediation"
	"github.com/go-playground/validator/v10"
)

// Column headers of the accounting export.
const (
	ColumnSwitchAddress = "NAS-IP-Address"
	ColumnSwitchPort    = "NAS-Port-Id"
	ColumnMACAddress    = "MACAddress"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrNoRecords     = errors.New("no records")
	ErrInvalidRecord = errors.New("invalid record")
)

var validate = validator.New()

// Record is one affected client.
type Record struct {
	Row           int    `validate:"-"`
	SwitchAddress string `validate:"required,ip|hostname_rfc1123"`
	SwitchPort    string `validate:"required"`
	MACAddress    string `validate:"required"`
}

// ReadFile reads records from a CSV file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	recs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Read parses CSV with a header row. Columns are located by name so extra
// columns and any column order are accepted. Row numbers in errors count the
// header as row 1.
func Read(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	cols := make([]int, 0, 3)
	for _, name := range []string{ColumnSwitchAddress, ColumnSwitchPort, ColumnMACAddress} {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
		cols = append(cols, i)
	}

	var recs []Record
	row := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if blank(fields) {
			continue
		}
		rec := Record{
			Row:           row,
			SwitchAddress: field(fields, cols[0]),
			SwitchPort:    field(fields, cols[1]),
			MACAddress:    field(fields, cols[2]),
		}
		if err := validate.Struct(rec); err != nil {
			return nil, fmt.Errorf("row %d: %w: %s", row, ErrInvalidRecord, describe(err))
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, ErrNoRecords
	}
	return recs, nil
}

// ToTasks converts records to remediation tasks, preserving input order.
func ToTasks(recs []Record) []remediation.Task {
	tasks := make([]remediation.Task, 0, len(recs))
	for i, rec := range recs {
		tasks = append(tasks, remediation.NewTask(i+1, rec.MACAddress, rec.SwitchAddress, rec.SwitchPort))
	}
	return tasks
}

func field(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %q fails %s", fe.Field(), fe.Value(), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}

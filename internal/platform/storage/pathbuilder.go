package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ExportPurpose captures which report an exported object belongs to.
type ExportPurpose string

const (
	PurposeCashSummary ExportPurpose = "cash-summary"
)

// PathParams provide the identifiers used to compose export object keys.
type PathParams struct {
	Day      time.Time
	FileName string
}

// PathBuilder composes the object path for a given export purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ExportPurpose]PathBuilder{
		PurposeCashSummary: buildCashSummaryPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ExportPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ExportPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported export purpose %q", purpose)
	}
	return builder(params)
}

func buildCashSummaryPath(params PathParams) (string, error) {
	if params.Day.IsZero() {
		return "", fmt.Errorf("storage: day is required")
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("exports/cash-summaries/%s/%s", params.Day.Format("2006/01/02"), fileName), nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}

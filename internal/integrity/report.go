package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// timestampLayout keeps report names sortable by generation time.
const timestampLayout = "20060102-150405"

// writeReport persists a JSON report under dir. Reports are append-only:
// the file is created exclusively and an existing name is never rewritten.
func writeReport(dir, prefix string, generatedAt time.Time, payload any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", prefix, generatedAt.UTC().Format(timestampLayout))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

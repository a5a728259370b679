package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Paths locates every state file the inspector reports on
type Paths struct {
	Prefs    string
	Preview  string
	PlansDir string
	Queue    string
	Activity string
}

// Inspector provides state introspection for the toolbox state directory
type Inspector struct {
	paths Paths
	now   func() time.Time
}

// NewInspector creates a new state inspector
func NewInspector(paths Paths) *Inspector {
	return &Inspector{paths: paths, now: time.Now}
}

// PreviewSummary describes the saved correction preview, if any
type PreviewSummary struct {
	Present    bool    `json:"present"`
	PageID     string  `json:"page_id,omitempty"`
	AgeHours   float64 `json:"age_hours,omitempty"`
	Fresh      bool    `json:"fresh"`
	Confidence float64 `json:"confidence,omitempty"`
}

// StateSummary holds a summary of all local state
type StateSummary struct {
	Prefs        Prefs          `json:"prefs"`
	Preview      PreviewSummary `json:"preview"`
	Plans        []string       `json:"plans"`
	QueuePending int            `json:"queue_pending"`
	Activity     int            `json:"activity_entries"`
}

// HealthReport holds health check results
type HealthReport struct {
	Status          string   `json:"status"` // "healthy", "warnings"
	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Summary returns a summary of all state components. Missing files count
// as empty.
func (i *Inspector) Summary() (*StateSummary, error) {
	summary := &StateSummary{Plans: []string{}}

	prefs, err := NewPrefsStore(i.paths.Prefs).Load()
	if err != nil {
		return nil, err
	}
	summary.Prefs = prefs

	if p, err := NewPreviewStore(i.paths.Preview).Load(); err == nil {
		now := i.now()
		summary.Preview = PreviewSummary{
			Present:    true,
			PageID:     p.PageID,
			AgeHours:   p.Age(now).Hours(),
			Fresh:      p.Fresh(now, PreviewTTL),
			Confidence: p.Confidence,
		}
	}

	summary.Plans = i.listPlans()
	summary.QueuePending = countJSONL(i.paths.Queue)
	summary.Activity = countJSONL(i.paths.Activity)
	return summary, nil
}

// Health runs health checks and returns a report
func (i *Inspector) Health() (*HealthReport, error) {
	report := &HealthReport{Status: "healthy"}

	summary, err := i.Summary()
	if err != nil {
		return nil, err
	}

	if summary.Preview.Present && !summary.Preview.Fresh {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Stale preview for page %s (%.0fh old)", summary.Preview.PageID, summary.Preview.AgeHours))
		report.Recommendations = append(report.Recommendations, "Re-run the correction in dry-run mode or apply with --force")
	}

	if summary.QueuePending > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d captured request(s) not yet synced", summary.QueuePending))
		report.Recommendations = append(report.Recommendations, "Run 'toolbox requests flush'")
	}

	if summary.Prefs.AutoApplyEnabled && summary.Prefs.AutoApplyThreshold < 0.8 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Low auto-apply threshold: %.2f", summary.Prefs.AutoApplyThreshold))
		report.Recommendations = append(report.Recommendations, "Raise auto_apply_threshold or disable auto-apply")
	}

	if summary.Activity > 10000 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("Large activity log: %d entries", summary.Activity))
		report.Recommendations = append(report.Recommendations, "Consider truncating old activity entries")
	}

	if len(report.Warnings) > 0 {
		report.Status = "warnings"
	}

	return report, nil
}

// TailActivity returns the last count activity entries
func (i *Inspector) TailActivity(count int) []map[string]any {
	return tailJSONL(i.paths.Activity, count)
}

// TruncateActivity keeps only the last keep activity entries
func (i *Inspector) TruncateActivity(keep int) error {
	return truncateJSONL(i.paths.Activity, keep)
}

func (i *Inspector) listPlans() []string {
	entries, err := os.ReadDir(i.paths.PlansDir)
	if err != nil {
		return []string{}
	}
	plans := []string{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		plans = append(plans, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(plans)
	return plans
}

func countJSONL(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) > 0 {
			count++
		}
	}
	return count
}

func readJSONLLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func tailJSONL(path string, count int) []map[string]any {
	lines, err := readJSONLLines(path)
	if err != nil {
		return nil
	}

	// Take last N
	if len(lines) > count {
		lines = lines[len(lines)-count:]
	}

	var result []map[string]any
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			result = append(result, entry)
		}
	}
	return result
}

func truncateJSONL(path string, keep int) error {
	lines, err := readJSONLLines(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	// Keep last N
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	return os.WriteFile(path, []byte(content), 0644)
}

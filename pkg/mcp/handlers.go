package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 100
	snippetLength     = 150
)

// handleListSources handles the list_sources tool
func (s *Server) handleListSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srcs := s.cfg.Scanner.Sources()
	sources := make([]map[string]interface{}, 0, len(srcs))

	for _, src := range srcs {
		info := map[string]interface{}{
			"id":       src.ID,
			"seed_url": src.SeedURL,
			"strategy": src.Strategy,
			"enabled":  src.Enabled,
		}
		if !src.LastScan.IsZero() {
			info["last_scan"] = src.LastScan.Format(time.RFC3339)
		}
		if s.jobManager.IsRunning(src.ID) {
			info["status"] = "running"
		}
		sources = append(sources, info)
	}

	result := map[string]interface{}{
		"sources":           sources,
		"config_path":       s.cfg.ConfigPath,
		"total_sources":     len(sources),
		"full_scan_running": s.jobManager.IsRunning(AllSources),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleScanAll handles the scan_all tool
func (s *Server) handleScanAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, created := s.jobManager.CreateJob(AllSources)
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A full scan is already in progress",
			"job_id":  job.ID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runScanJob(job)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Full scan started successfully",
		"job_id":  job.ID,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleScanSource handles the scan_source tool
func (s *Server) handleScanSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceID := request.GetString("source_id", "")
	if sourceID == "" {
		return mcp.NewToolResultError("source_id parameter is required"), nil
	}
	if !s.hasEnabledSource(sourceID) {
		return mcp.NewToolResultError(fmt.Sprintf("source '%s' not found or disabled. Available sources: %v", sourceID, s.enabledSourceIDs())), nil
	}

	job, created := s.jobManager.CreateJob(sourceID)
	if !created {
		result := map[string]interface{}{
			"status":    "already_running",
			"message":   "A scan is already in progress for this source",
			"job_id":    job.ID,
			"source_id": sourceID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runScanJob(job)

	result := map[string]interface{}{
		"status":    "started",
		"message":   "Scan started successfully",
		"job_id":    job.ID,
		"source_id": sourceID,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetScanStatus handles the get_scan_status tool
func (s *Server) handleGetScanStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"source_id":  job.SourceID,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	if job.Outcome != nil {
		result["outcome"] = job.Outcome
	}
	if job.Report != nil {
		result["report"] = job.Report
		result["totals"] = job.Report.Totals()
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handlePreviewSource handles the preview_source tool
func (s *Server) handlePreviewSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceID := request.GetString("source_id", "")
	if sourceID == "" {
		return mcp.NewToolResultError("source_id parameter is required"), nil
	}

	startTime := time.Now()
	items, err := s.cfg.Scanner.Preview(ctx, sourceID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("preview failed [%s]: %v", utils.CategorizeError(err), err)), nil
	}

	counts := make(map[models.DecisionKind]int)
	for _, item := range items {
		if item.Error == "" {
			counts[item.Decision.Kind]++
		}
	}

	result := map[string]interface{}{
		"source_id":     sourceID,
		"candidates":    items,
		"total":         len(items),
		"decisions":     counts,
		"fetch_time_ms": time.Since(startTime).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchRecords handles the search_records tool
func (s *Server) handleSearchRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	sourceID := request.GetString("source_id", "")
	maxResults := request.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxMaxResults {
		maxResults = maxMaxResults
	}

	results, err := s.searchRecords(ctx, query, sourceID, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if sourceID != "" {
		response["source_id"] = sourceID
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// runScanJob runs a scan job in the background
func (s *Server) runScanJob(job *Job) {
	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(job.ID)
	if s.cfg.AfterScan != nil {
		defer s.cfg.AfterScan()
	}

	if job.SourceID == AllSources {
		report, err := s.cfg.Scanner.ScanAll(jobCtx)
		if err != nil {
			s.finishWithError(job, jobCtx, err)
			return
		}
		s.jobManager.SetReport(job.ID, report)
		return
	}

	outcome, err := s.cfg.Scanner.ScanOne(jobCtx, job.SourceID)
	if err != nil {
		s.finishWithError(job, jobCtx, err)
		return
	}
	s.jobManager.SetOutcome(job.ID, outcome)
}

func (s *Server) finishWithError(job *Job, jobCtx context.Context, err error) {
	if errors.Is(err, context.Canceled) || jobCtx.Err() != nil {
		s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
		return
	}
	s.log.WithError(err).WithField("job_id", job.ID).Warn("Scan job failed")
	s.jobManager.UpdateStatus(job.ID, JobStatusFailed, err.Error())
}

func (s *Server) hasEnabledSource(id string) bool {
	for _, src := range s.cfg.Scanner.Sources() {
		if src.ID == id {
			return src.Enabled
		}
	}
	return false
}

func (s *Server) enabledSourceIDs() []string {
	var ids []string
	for _, src := range s.cfg.Scanner.Sources() {
		if src.Enabled {
			ids = append(ids, src.ID)
		}
	}
	return ids
}

// searchRecords streams the record export and collects matches until
// maxResults is reached.
func (s *Server) searchRecords(ctx context.Context, query, sourceID string, maxResults int) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	exportDone := make(chan error, 1)
	go func() {
		_, err := s.cfg.Records.ExportRecords(ctx, pw)
		pw.CloseWithError(err)
		exportDone <- err
	}()

	results := make([]map[string]interface{}, 0)
	queryLower := strings.ToLower(query)

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // up to 10MB per line

	for len(results) < maxResults && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec models.JobRecord
		if err := parseJSONLine(line, &rec); err != nil {
			continue
		}
		if sourceID != "" && rec.SourceID != sourceID {
			continue
		}

		location, text := matchRecord(&rec, queryLower)
		if location == "" {
			continue
		}
		results = append(results, map[string]interface{}{
			"id":             rec.ID,
			"title":          rec.Title.String(),
			"source_id":      rec.SourceID,
			"source_url":     rec.SourceURL,
			"snippet":        extractSnippet(text, query, snippetLength),
			"match_location": location,
			"updated_at":     rec.UpdatedAt.Format(time.RFC3339),
		})
	}
	scanErr := scanner.Err()

	// Stop the export early once enough matches were collected
	pr.Close()
	cancel()
	exportErr := <-exportDone

	if scanErr != nil {
		return results, scanErr
	}
	if len(results) < maxResults && exportErr != nil {
		return results, exportErr
	}
	return results, nil
}

// matchRecord returns where the query matched and the text to snippet from.
func matchRecord(rec *models.JobRecord, queryLower string) (string, string) {
	if rec.Title.IsKnown() && strings.Contains(strings.ToLower(rec.Title.Value), queryLower) {
		return "title", rec.Title.Value
	}
	if strings.Contains(strings.ToLower(rec.Summary), queryLower) {
		return "summary", rec.Summary
	}
	for _, field := range []struct {
		name    string
		mapping models.MappingField
	}{{"eligibility", rec.Eligibility}, {"fees", rec.Fees}} {
		for _, e := range field.mapping.Entries {
			text := e.Name + ": " + e.Value
			if strings.Contains(strings.ToLower(text), queryLower) {
				return field.name, text
			}
		}
	}
	for _, step := range rec.ApplicationProcess.Steps {
		if strings.Contains(strings.ToLower(step), queryLower) {
			return "application_process", step
		}
	}
	return "", ""
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := idx - maxLen/2
	if start < 0 {
		start = 0
	}

	end := idx + len(queryRunes) + maxLen/2
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}

	return snippet
}

// parseJSONLine parses a single exported JSON line into a record
func parseJSONLine(line string, rec *models.JobRecord) error {
	return json.Unmarshal([]byte(line), rec)
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}

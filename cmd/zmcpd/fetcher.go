package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"zmcptools/internal/jobqueue"
	"zmcptools/internal/types"
)

// httpFetcher is the concrete jobqueue.Fetcher used by the worker command:
// it fetches job_data's page list with the standard library client and
// extracts text via jobqueue.ExtractText, grounded on the teacher's
// web_fetch tool (fetch, cap body size, convert HTML to readable text).
type httpFetcher struct{}

func (httpFetcher) Fetch(ctx context.Context, job *types.ScrapeJob, report func(pagesScraped int)) (types.Extensions, error) {
	pages := job.JobData.Patterns
	if len(pages) == 0 {
		pages = []string{job.SourceID}
	}

	result := types.NewExtensions()
	scraped := 0
	for _, url := range pages {
		text, err := fetchAndExtract(ctx, url)
		if err != nil {
			return result, fmt.Errorf("fetch %s: %w", url, err)
		}
		result = result.With(url, text)
		scraped++
		report(scraped)

		if job.JobData.MaxPages > 0 && scraped >= job.JobData.MaxPages {
			break
		}
	}
	return result, nil
}

func fetchAndExtract(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; zmcptools/1.0)")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}

	return jobqueue.ExtractText(string(body))
}

package pagewatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/codementor/idgen"
	"github.com/hazyhaar/codementor/pagewatch/internal/extract"
	"github.com/hazyhaar/codementor/pagewatch/internal/fetcher"
	"github.com/hazyhaar/codementor/problem"
)

// ExtractHTML runs a single extraction over a serialised page. There is
// no retry loop here: an unresolved language is reported as "Unknown".
func ExtractHTML(src, pageURL, pageID string, sel Selectors) (*problem.Snapshot, error) {
	doc, err := extract.Parse(src, pageURL, sel)
	if err != nil {
		return nil, err
	}
	lang := doc.Language()
	if lang == "" {
		lang = "Unknown"
	}
	return &problem.Snapshot{
		ID:                  idgen.New(),
		PageID:              pageID,
		Title:               doc.Title(),
		Description:         doc.Description(),
		DescriptionMarkdown: doc.DescriptionMarkdown(),
		Difficulty:          doc.Difficulty(),
		UserCode:            doc.Code(),
		Language:            lang,
		URL:                 pageURL,
		CapturedAt:          time.Now().UnixMilli(),
	}, nil
}

// ExtractURL fetches pageURL over plain HTTP and extracts it. Only
// server-rendered or saved pages carry the editor contents this way.
func ExtractURL(ctx context.Context, pageURL, pageID string, sel Selectors, logger *slog.Logger) (*problem.Snapshot, error) {
	return extractURL(ctx, pageURL, pageID, sel, logger)
}

// ExtractPublicURL is ExtractURL restricted to public hosts: the URL,
// every redirect and every dialled address must not be loopback, private
// or link-local.
func ExtractPublicURL(ctx context.Context, pageURL, pageID string, sel Selectors, logger *slog.Logger) (*problem.Snapshot, error) {
	return extractURL(ctx, pageURL, pageID, sel, logger, fetcher.WithPublicOnly())
}

func extractURL(ctx context.Context, pageURL, pageID string, sel Selectors, logger *slog.Logger, opts ...fetcher.Option) (*problem.Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res, err := fetcher.New(append([]fetcher.Option{fetcher.WithLogger(logger)}, opts...)...).Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("pagewatch: %w", err)
	}
	return ExtractHTML(res.HTML, res.URL, pageID, sel)
}

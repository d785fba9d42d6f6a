package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

const defaultInstructions = "Transcribe every piece of text visible in this image. " +
	"Preserve reading order and line breaks. Output the text only, with no commentary."

type runParams struct {
	runID        uint64
	pages        []string
	instructions string
	startedAt    time.Time
	cancel       context.CancelFunc
}

// runExtraction is the detached background task of one run. It never
// touches actor state directly: all progress flows back through the
// mailbox, and the single terminal runDoneMsg reports the outcome.
func (a *Actor) runExtraction(ctx context.Context, p runParams) {
	defer p.cancel()

	finalText, err := a.extractPages(ctx, p)
	a.post(runDoneMsg{
		runID:     p.runID,
		finalText: finalText,
		elapsed:   time.Since(p.startedAt),
		err:       err,
	})
}

func (a *Actor) extractPages(ctx context.Context, p runParams) (string, error) {
	total := len(p.pages)
	multiPage := total > 1
	prompt := buildPrompt(p.instructions)

	// Pages run strictly sequentially: page k+1 never starts before
	// page k's stream has ended.
	pageTexts := make([]string, 0, total)
	for i, ref := range p.pages {
		pageNumber := i + 1
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if multiPage {
			a.post(pageStartMsg{runID: p.runID, pageNumber: pageNumber, totalPages: total})
		}

		text, err := a.extractPage(ctx, p.runID, prompt, ref)
		if err != nil {
			return "", err
		}
		pageTexts = append(pageTexts, text)

		if multiPage {
			a.post(pageCompleteMsg{runID: p.runID, pageNumber: pageNumber, totalPages: total, text: text})
		}
	}

	finalText := strings.Join(pageTexts, domain.PageBreakMarker)
	if cut, found := a.deps.Detector.Find(finalText); found {
		a.logger.Warn("repetition truncated", "cut", cut, "original_bytes", len(finalText))
		finalText = finalText[:cut]
	}
	return finalText, nil
}

func (a *Actor) extractPage(ctx context.Context, runID uint64, prompt, ref string) (string, error) {
	image, err := a.fetchSource(ctx, ref)
	if err != nil {
		return "", err
	}

	image, err = a.deps.Images.Downscale(image, a.deps.Config.MaxImageDim)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "preprocess source image", err)
	}

	var pageText strings.Builder
	streamErr := a.deps.Vision.GenerateStream(ctx, prompt, image, func(frag string) error {
		// Cooperative cancellation: checked at the top of the read
		// loop, so a fragment already received still lands.
		if err := ctx.Err(); err != nil {
			return err
		}
		pageText.WriteString(frag)
		a.post(fragmentMsg{runID: runID, text: frag})
		return nil
	})
	if streamErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.WrapError(domain.ErrUpstream, "vision generate", streamErr)
	}
	// Safe point after stream end.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return pageText.String(), nil
}

func (a *Actor) fetchSource(ctx context.Context, ref string) ([]byte, error) {
	rc, err := a.deps.Storage.Open(ctx, ref)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSourceNotFound, "open source", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSourceNotFound, "read source", fmt.Errorf("%s: %w", ref, err))
	}
	return data, nil
}

func buildPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return defaultInstructions
	}
	return defaultInstructions + "\n\nAdditional instructions:\n" + instructions
}

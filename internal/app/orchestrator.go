package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bookforge/internal/util"
	"bookforge/pkg/ai"
	"bookforge/pkg/domain"
	"bookforge/pkg/queue"
	"bookforge/pkg/storage"
	"bookforge/pkg/store"
)

const (
	defaultChapters    = 5
	chapterConcurrency = 2
	chapterMaxTokens   = 2000
)

// Orchestrator turns queued generation jobs into finished manuscripts:
// outline first, then chapters, then story memory and the uploaded text.
type Orchestrator struct {
	Store       store.Store
	Generator   ai.TextGenerator
	Manuscripts storage.ManuscriptStore
	MaxChapters int
	Logger      *slog.Logger
}

// Handle processes one job. A missing book is acked silently (the row was
// deleted after enqueue); generation errors mark the book failed and are
// returned so the queue can retry.
func (o *Orchestrator) Handle(ctx context.Context, job queue.Job) error {
	logger := o.logger().With("bookId", job.BookID, "jobId", job.ID)

	book, ok, err := o.Store.FindBookForOwner(job.BookID, job.OwnerID)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if !ok {
		logger.Warn("skipping job for unknown book")
		return nil
	}

	if err := o.Store.SetBookStatus(book.ID, domain.StatusGenerating, ""); err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}

	manuscript, memory, err := o.generate(ctx, book)
	if err != nil {
		_ = o.Store.SetBookStatus(book.ID, domain.StatusFailed, err.Error())
		logger.Error("generation failed", "error", err)
		return err
	}

	storageKey := ""
	if o.Manuscripts != nil {
		storageKey, err = o.Manuscripts.PutManuscript(ctx, book.ID, manuscript)
		if err != nil {
			_ = o.Store.SetBookStatus(book.ID, domain.StatusFailed, "manuscript upload failed")
			return fmt.Errorf("upload manuscript: %w", err)
		}
	}

	words := util.CountWords(manuscript)
	if err := o.Store.SetBookResult(book.ID, storageKey, words, memory); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	if err := o.Store.IncrementUsage(book.OwnerID, 1, words); err != nil {
		logger.Warn("usage increment failed", "error", err)
	}
	logger.Info("book generated", "words", words, "chapters", len(memory.Chapters))
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, book domain.Book) (string, *domain.StoryMemory, error) {
	outline, err := o.Generator.Chat(ctx, outlinePrompt(book), ai.Options{MaxTokens: ai.DefaultMaxTokens})
	if err != nil {
		return "", nil, fmt.Errorf("outline: %w", err)
	}
	synopsis, chapters := parseOutline(outline, o.maxChapters())

	texts := make([]string, len(chapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chapterConcurrency)
	for i, ch := range chapters {
		i, ch := i, ch
		g.Go(func() error {
			text, err := o.Generator.Chat(gctx, chapterPrompt(book, synopsis, ch), ai.Options{MaxTokens: chapterMaxTokens})
			if err != nil {
				return fmt.Errorf("chapter %d: %w", ch.Number, err)
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString(book.Title)
	sb.WriteString("\n\n")
	for i, ch := range chapters {
		fmt.Fprintf(&sb, "Chapter %d: %s\n\n%s\n\n", ch.Number, ch.Title, texts[i])
		chapters[i].Summary = summarize(texts[i])
	}

	memory := &domain.StoryMemory{
		Synopsis:  synopsis,
		Chapters:  chapters,
		UpdatedAt: time.Now().UTC(),
	}
	return sb.String(), memory, nil
}

func (o *Orchestrator) maxChapters() int {
	if o.MaxChapters > 0 {
		return o.MaxChapters
	}
	return defaultChapters
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func outlinePrompt(book domain.Book) []ai.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Outline a book titled %q.", book.Title)
	if book.Premise != "" {
		fmt.Fprintf(&sb, " Premise: %s.", book.Premise)
	}
	sb.WriteString(" Start with a one-paragraph synopsis, then list the chapters, one per line, numbered like \"1. Chapter title\".")
	return []ai.Message{{Role: ai.RoleUser, Content: sb.String()}}
}

func chapterPrompt(book domain.Book, synopsis string, ch domain.ChapterSummary) []ai.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write chapter %d, %q, of the book %q.", ch.Number, ch.Title, book.Title)
	if synopsis != "" {
		fmt.Fprintf(&sb, " Synopsis: %s", synopsis)
	}
	sb.WriteString(" Write prose only, no headings.")
	return []ai.Message{{Role: ai.RoleUser, Content: sb.String()}}
}

var chapterLine = regexp.MustCompile(`^\s*(\d+)[.):]\s+(.+)$`)

// parseOutline splits the model's outline into a synopsis (everything before
// the first numbered line) and up to max chapter titles. A model that ignores
// the numbering instruction still yields a usable single-chapter book.
func parseOutline(outline string, max int) (string, []domain.ChapterSummary) {
	var synopsis []string
	var chapters []domain.ChapterSummary
	for _, line := range strings.Split(outline, "\n") {
		if m := chapterLine.FindStringSubmatch(line); m != nil {
			if len(chapters) < max {
				chapters = append(chapters, domain.ChapterSummary{
					Number: len(chapters) + 1,
					Title:  strings.TrimSpace(m[2]),
				})
			}
			continue
		}
		if len(chapters) == 0 && strings.TrimSpace(line) != "" {
			synopsis = append(synopsis, strings.TrimSpace(line))
		}
	}
	if len(chapters) == 0 {
		chapters = []domain.ChapterSummary{{Number: 1, Title: "Chapter One"}}
	}
	return strings.Join(synopsis, " "), chapters
}

// summarize keeps the first sentence of a chapter as its memory summary.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i > 0 && i < len(text)-1 {
		return text[:i+1]
	}
	if len(text) > 200 {
		return text[:200]
	}
	return text
}

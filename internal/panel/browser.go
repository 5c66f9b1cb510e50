package panel

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"wallbox_control/internal/models"
)

// Options configures the Browser facade.
type Options struct {
	// URL of the wallbox control panel page.
	URL string
	// PageLoadWait is how long to let the panel render after navigation;
	// the page draws status via scripts, so WaitReady alone is not enough.
	PageLoadWait time.Duration
	// Headless disables the visible Chrome window (default in production).
	Headless bool
}

// Browser is a Device backed by a headless Chrome session. The Chrome
// process starts lazily on first use and is reused across calls; one
// session serves the whole process.
type Browser struct {
	opts      Options
	parentCtx context.Context

	mu          sync.Mutex
	started     bool
	browserCtx  context.Context
	browserDone context.CancelFunc
	allocDone   context.CancelFunc
}

// NewBrowser creates a Browser rooted at parentCtx. Cancelling parentCtx
// tears down Chrome.
func NewBrowser(parentCtx context.Context, opts Options) *Browser {
	if opts.PageLoadWait <= 0 {
		opts.PageLoadWait = 5 * time.Second
	}
	return &Browser{opts: opts, parentCtx: parentCtx}
}

// Close shuts down the Chrome process if it was started.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}
	b.browserDone()
	b.allocDone()
	b.browserDone = nil
	b.allocDone = nil
	b.browserCtx = nil
	b.started = false
}

// ensureBrowser lazily starts the Chrome process on first call.
func (b *Browser) ensureBrowser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return b.browserCtx, nil
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !b.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(b.parentCtx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force Chrome to start by running a noop.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: start chrome: %v", ErrUnreachable, err)
	}

	b.browserCtx = browserCtx
	b.browserDone = browserCancel
	b.allocDone = allocCancel
	b.started = true

	return b.browserCtx, nil
}

// opContext derives a chromedp-compatible context whose deadline follows
// the caller's. chromedp actions must run on the browser context chain,
// so the caller's deadline is copied over rather than the context itself.
func (b *Browser) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	bCtx, err := b.ensureBrowser()
	if err != nil {
		return nil, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		opCtx, cancel := context.WithDeadline(bCtx, deadline)
		return opCtx, cancel, nil
	}
	opCtx, cancel := context.WithTimeout(bCtx, 30*time.Second)
	return opCtx, cancel, nil
}

// loadPanel navigates to the panel page and extracts the rendered body
// text, giving the page PageLoadWait to draw its status lines.
func (b *Browser) loadPanel(ctx context.Context) (string, error) {
	opCtx, cancel, err := b.opContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	var body string
	err = chromedp.Run(opCtx,
		chromedp.Navigate(b.opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.opts.PageLoadWait),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &body),
	)
	if err != nil {
		return "", fmt.Errorf("%w: load %s: %v", ErrUnreachable, b.opts.URL, err)
	}
	return collapseWhitespace(body), nil
}

// ReadStatus returns the verbatim status text shown by the panel.
func (b *Browser) ReadStatus(ctx context.Context) (string, error) {
	body, err := b.loadPanel(ctx)
	if err != nil {
		return "", err
	}
	return statusFromBody(body), nil
}

// ReadMode returns the verbatim mode text shown by the panel.
func (b *Browser) ReadMode(ctx context.Context) (string, error) {
	body, err := b.loadPanel(ctx)
	if err != nil {
		return "", err
	}
	return modeFromBody(body), nil
}

// Invoke presses one control button, located by its visible caption.
func (b *Browser) Invoke(ctx context.Context, c models.Control) error {
	caption, err := buttonCaption(c)
	if err != nil {
		return err
	}

	opCtx, cancel, err := b.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	selector := fmt.Sprintf(`//button[contains(., %q)]`, caption)
	err = chromedp.Run(opCtx,
		chromedp.Navigate(b.opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.opts.PageLoadWait),
		chromedp.Click(selector, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("%w: click %q: %v", ErrUnreachable, caption, err)
	}
	return nil
}

// multiBlankLine matches two or more consecutive newlines (with optional
// whitespace).
var multiBlankLine = regexp.MustCompile(`\n\s*\n`)

// collapseWhitespace reduces multiple blank lines to a single newline.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(multiBlankLine.ReplaceAllString(s, "\n"))
}

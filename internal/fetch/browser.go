package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderOptions control a rendered fetch.
type RenderOptions struct {
	// WaitSelector, when non-empty, delays capture until the selector
	// appears in the page.
	WaitSelector string
	// ClickSelector, when non-empty, is clicked once before capture
	// (age gates, cookie walls).
	ClickSelector string
	// Timeout bounds the whole navigation; defaults to 30s.
	Timeout time.Duration
}

// BrowserPool is a bounded pool of headless browser instances. Acquire
// blocks when all browsers are busy; every acquire is paired with a
// release on all exit paths.
type BrowserPool struct {
	slots  chan *browserSlot
	closed chan struct{}
}

type browserSlot struct {
	allocCtx context.Context
	cancel   context.CancelFunc
}

// NewBrowserPool starts size browser allocators. Browsers are launched
// lazily by chromedp on first navigation.
func NewBrowserPool(size int) *BrowserPool {
	if size <= 0 {
		size = 1
	}

	pool := &BrowserPool{
		slots:  make(chan *browserSlot, size),
		closed: make(chan struct{}),
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(userAgent),
	)

	for i := 0; i < size; i++ {
		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
		pool.slots <- &browserSlot{allocCtx: allocCtx, cancel: cancel}
	}

	return pool
}

// RenderHTML navigates a pooled browser to the URL and returns the
// final DOM after scripts have run.
func (p *BrowserPool) RenderHTML(ctx context.Context, url string, opts RenderOptions) (string, error) {
	slot, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer p.release(slot)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tabCtx, cancelTab := chromedp.NewContext(slot.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if opts.ClickSelector != "" {
		actions = append(actions,
			chromedp.WaitVisible(opts.ClickSelector),
			chromedp.Click(opts.ClickSelector),
		)
	}
	if opts.WaitSelector != "" {
		actions = append(actions, chromedp.WaitReady(opts.WaitSelector))
	} else {
		actions = append(actions, chromedp.WaitReady("body"))
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", fmt.Errorf("%w: render %s: %v", ErrContentFetch, url, err)
	}

	return html, nil
}

func (p *BrowserPool) acquire(ctx context.Context) (*browserSlot, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	case <-p.closed:
		return nil, errors.New("browser pool closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *BrowserPool) release(slot *browserSlot) {
	select {
	case p.slots <- slot:
	case <-p.closed:
		slot.cancel()
	}
}

// Close shuts the pool down and cancels all browser allocators.
func (p *BrowserPool) Close() {
	close(p.closed)
	for {
		select {
		case slot := <-p.slots:
			slot.cancel()
		default:
			return
		}
	}
}

package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// converter turns a rendered HTML page into a binary document.
type converter func(ctx context.Context, html, title string) (*Result, error)

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "headless-shell"}

// paper is a page size and uniform margin in inches.
type paper struct {
	width, height, margin float64
}

var letter = paper{width: 8.5, height: 11, margin: 0.75}

func chromePDF(size paper, timeout time.Duration) converter {
	return func(ctx context.Context, html, title string) (*Result, error) {
		if !onPath(chromeBinaries...) {
			return nil, fmt.Errorf("%w: no chromium binary on PATH", ErrPDFDependencyMissing)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.DisableGPU,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)...)
		defer cancelAlloc()
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		defer cancelBrowser()

		var data []byte
		err := chromedp.Run(browserCtx,
			chromedp.Navigate("data:text/html;charset=utf-8,"+percentEncodeForDataURL(html)),
			chromedp.WaitReady("body"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				data, _, err = page.PrintToPDF().
					WithPrintBackground(true).
					WithPaperWidth(size.width).
					WithPaperHeight(size.height).
					WithMarginTop(size.margin).
					WithMarginBottom(size.margin).
					WithMarginLeft(size.margin).
					WithMarginRight(size.margin).
					WithPreferCSSPageSize(true).
					Do(ctx)
				return err
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("print pdf: %w", err)
		}
		return &Result{Data: data, Filename: sanitizeFilename(title) + ".pdf", MimeType: MimeType(FormatPDF)}, nil
	}
}

func pandocDOCX(binary string, timeout time.Duration) converter {
	return func(ctx context.Context, html, title string) (*Result, error) {
		if !onPath(binary) {
			return nil, fmt.Errorf("%w: %s not on PATH", ErrDOCXDependencyMissing, binary)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, binary,
			"--from=html", "--to=docx", "--standalone",
			"--metadata", "title="+title,
			"--output=-",
		)
		cmd.Stdin = strings.NewReader(html)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("pandoc exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
			}
			return nil, fmt.Errorf("run pandoc: %w", err)
		}
		return &Result{Data: stdout.Bytes(), Filename: sanitizeFilename(title) + ".docx", MimeType: MimeType(FormatDOCX)}, nil
	}
}

func onPath(names ...string) bool {
	for _, name := range names {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// percentEncodeForDataURL escapes every byte outside the RFC 3986 unreserved
// set, so spaces become %20 rather than '+'.
func percentEncodeForDataURL(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_', turns spaces
// into '-', and caps the result at 50 bytes.
func sanitizeFilename(title string) string {
	const maxLen = 50
	out := make([]byte, 0, maxLen)
	for _, r := range title {
		if len(out) == maxLen {
			break
		}
		switch {
		case r < 0x80 && isUnreserved(byte(r)) && r != '.' && r != '~':
			out = append(out, byte(r))
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "document"
	}
	return string(out)
}

// Package ui formats terminal output for the moodlock CLI.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/illarion/moodlock/internal/crypto"
)

func Success(msg string) string {
	return color.GreenString("✓") + " " + msg
}

func Failure(msg string) string {
	return color.RedString("✗") + " " + msg
}

func Warning(msg string) string {
	return color.YellowString("!") + " " + msg
}

// Hint formats a follow-up suggestion; cmd is highlighted.
func Hint(text, cmd string) string {
	if cmd == "" {
		return color.CyanString("→") + " " + text
	}
	return color.CyanString("→") + " " + text + " " + color.YellowString(cmd)
}

func Highlight(s string) string {
	return color.YellowString(s)
}

// EnsureNewline appends a newline to s if it lacks one.
func EnsureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// QRCode renders content as a terminal QR code, two modules per character row.
func QRCode(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.New("empty QR code content")
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}
	bitmap := q.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// FormatProgress renders a derivation progress event as spinner text.
func FormatProgress(p crypto.Progress) string {
	switch p.Status {
	case crypto.StatusDeriving:
		if p.Percent == 0 {
			return "deriving key"
		}
		s := fmt.Sprintf("deriving key %d%%", p.Percent)
		if p.EstimatedRemaining > 0 {
			s += fmt.Sprintf(" (~%s left)", p.EstimatedRemaining.Round(100*time.Millisecond))
		}
		return s
	case crypto.StatusComplete:
		return "key ready"
	case crypto.StatusError:
		return "key derivation failed"
	default:
		return "waiting"
	}
}

// Progress is a spinner showing key derivation progress.
type Progress struct {
	s *spinner.Spinner
}

// StartProgress starts a spinner on w. With enabled false nothing is drawn and
// every method is a no-op.
func StartProgress(w io.Writer, message string, enabled bool) *Progress {
	if !enabled {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	// Ignore color errors - continue without colored spinner if it fails.
	_ = s.Color("cyan")
	s.Start()
	return &Progress{s: s}
}

// Update shows p as the spinner text.
func (p *Progress) Update(pr crypto.Progress) {
	if p.s == nil {
		return
	}
	p.s.Lock()
	p.s.Suffix = " " + FormatProgress(pr)
	p.s.Unlock()
}

// Stop stops the spinner and prints final, if set.
func (p *Progress) Stop(final string) {
	if p.s == nil {
		if final != "" {
			fmt.Print(EnsureNewline(final))
		}
		return
	}
	p.s.FinalMSG = EnsureNewline(final)
	p.s.Stop()
}

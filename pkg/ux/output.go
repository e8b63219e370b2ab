// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders riskboard output for terminals.
//
// A Printer writes either styled output (colors, rounded boxes, icons)
// or plain text. NewPrinter picks styled output only when the writer is
// a terminal, so piping `riskboard assess` into a file or another
// program yields stable plain text.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette. Risk colors come from the risk level itself; these cover the
// chrome around it.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
	ColorSuccess     = lipgloss.Color("#2ECC71")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title      lipgloss.Style
	Heading    lipgloss.Style
	Bold       lipgloss.Style
	Muted      lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Success    lipgloss.Style
	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Heading: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon is a status glyph. Plain output uses the ASCII form.
type Icon string

const (
	IconOK      Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
	IconArrow   Icon = "→"
)

var asciiIcons = map[Icon]string{
	IconOK:      "[ok]",
	IconWarning: "[!]",
	IconError:   "[x]",
	IconBullet:  "-",
	IconArrow:   "->",
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Printer writes styled or plain output to one writer.
//
// Write errors are remembered and returned by Err; after the first one
// nothing more is written.
type Printer struct {
	w      io.Writer
	styled bool
	width  int
	err    error
}

// NewPrinter returns a styled Printer when w is a terminal and NO_COLOR
// is unset, and a plain one otherwise.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		styled = IsTerminal(f)
	}
	return NewPrinterMode(w, styled)
}

// NewPrinterMode returns a Printer with the mode fixed.
func NewPrinterMode(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled, width: 72}
}

// Styled reports the mode.
func (p *Printer) Styled() bool { return p.styled }

// Err returns the first write error.
func (p *Printer) Err() error { return p.err }

func (p *Printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Icon renders i in the printer's mode, colored by kind when styled.
func (p *Printer) Icon(i Icon) string {
	if !p.styled {
		if a, ok := asciiIcons[i]; ok {
			return a
		}
		return string(i)
	}
	switch i {
	case IconOK:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a title line.
func (p *Printer) Title(text string) {
	p.printf("%s\n", p.render(Styles.Title, text))
}

// Heading prints a section heading preceded by a blank line.
func (p *Printer) Heading(text string) {
	if p.styled {
		p.printf("\n%s\n", Styles.Heading.Render(text))
		return
	}
	p.printf("\n%s:\n", text)
}

// Badge prints label followed by value highlighted in the hex color.
func (p *Printer) Badge(label, value, hex string) {
	if !p.styled {
		p.printf("%s: %s\n", label, value)
		return
	}
	badge := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#0F1923")).
		Background(lipgloss.Color(hex)).
		Padding(0, 1).
		Render(value)
	p.printf("%s %s\n", Styles.Bold.Render(label+":"), badge)
}

// KV prints an indented key/value line.
func (p *Printer) KV(key string, value any) {
	p.printf("  %s %v\n", p.render(Styles.Muted, key+":"), value)
}

// Item prints an indented list item with an icon and optional muted detail.
func (p *Printer) Item(icon Icon, text, detail string) {
	if detail != "" {
		detail = " " + p.render(Styles.Muted, "("+detail+")")
	}
	p.printf("  %s %s%s\n", p.Icon(icon), text, detail)
}

// Box prints content under a title, in a rounded box when styled.
func (p *Printer) Box(title, content string) {
	p.box(Styles.Box, Styles.Title, title, content)
}

// WarningBox is Box with warning colors.
func (p *Printer) WarningBox(title, content string) {
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), title, content)
}

func (p *Printer) box(frame, head lipgloss.Style, title, content string) {
	if !p.styled {
		p.printf("%s: %s\n", title, strings.ReplaceAll(content, "\n", "\n  "))
		return
	}
	p.printf("%s\n", frame.Width(p.width).Render(head.Render(title)+"\n"+content))
}

// Muted prints a de-emphasized line.
func (p *Printer) Muted(text string) {
	p.printf("%s\n", p.render(Styles.Muted, text))
}

// Blank prints an empty line.
func (p *Printer) Blank() {
	p.printf("\n")
}

// Bar renders a fixed-width meter for a value in [0, 1].
func (p *Printer) Bar(v float64, width int) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(v*float64(width) + 0.5)
	if !p.styled {
		return fmt.Sprintf("%.2f", v)
	}
	return Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %.2f", v)
}

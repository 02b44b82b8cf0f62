package main

import (
	"io"
	"sync"

	"github.com/pterm/pterm"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/bootstrap"
)

// progressBar renders bootstrap progress (0..ProgressComplete) with pterm.
type progressBar struct {
	mu      sync.Mutex
	bar     *pterm.ProgressbarPrinter
	current int
}

func newProgressBar(w io.Writer, title string) *progressBar {
	bar, err := pterm.DefaultProgressbar.
		WithTitle(title).
		WithTotal(bootstrap.ProgressComplete).
		WithWriter(w).
		WithRemoveWhenDone(false).
		Start()
	if err != nil {
		return &progressBar{}
	}
	return &progressBar{bar: bar}
}

// Set moves the bar to v. Progress never moves backwards on screen.
func (p *progressBar) Set(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || v <= p.current {
		return
	}
	p.bar.Add(v - p.current)
	p.current = v
}

func (p *progressBar) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
}

// spindle-watch is a terminal dashboard for a running spindled instance.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/spindleworks/spindle/internal/watch"
)

func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8581", "base URL of the spindled API")
	flag.Parse()

	p := tea.NewProgram(watch.New(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "spindle-watch: %v\n", err)
		os.Exit(1)
	}
}

package flash

import (
	"fmt"
	"io"
)

// status prints operator-facing lines.
type status struct {
	w      io.Writer
	silent bool
}

func (s status) Printf(format string, args ...any) {
	if s.silent {
		return
	}
	fmt.Fprintf(s.w, format, args...)
}

// Always prints regardless of silent mode.
func (s status) Always(format string, args ...any) {
	fmt.Fprintf(s.w, format, args...)
}

// Block prints the block number every ten blocks and a dot otherwise.
func (s status) Block(block int) {
	if block%10 != 0 {
		s.Printf(".")
	} else {
		s.Printf("%d", block)
	}
}

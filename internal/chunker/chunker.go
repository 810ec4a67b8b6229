// Package chunker splits document text into bounded blocks so keyword and
// preview extraction on long documents works over manageable pieces.
package chunker

import "strings"

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures block sizing.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns the default block sizing.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Split breaks text into blocks on markdown headings and blank-line gaps,
// merging neighbors up to TargetSize and hard-splitting anything beyond
// MaxSize. Text at or under MaxSize comes back as a single block.
func Split(text string, opts Options) []string {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return []string{text}
	}

	var blocks []string
	var current []string
	prevBlank := false

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		if joined != "" {
			blocks = append(blocks, joined)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && len(current) > 0 {
			flush()
		}
		if trimmed == "" {
			if prevBlank && len(current) > 0 {
				flush()
			}
			prevBlank = true
		} else {
			prevBlank = false
		}
		current = append(current, line)
	}
	flush()

	return merge(blocks, opts)
}

// merge combines adjacent small blocks toward TargetSize and splits any
// block still over MaxSize on line boundaries.
func merge(blocks []string, opts Options) []string {
	var out []string
	accum := ""

	emit := func() {
		if accum == "" {
			return
		}
		if len(accum) > opts.MaxSize {
			out = append(out, hardSplit(accum, opts.TargetSize)...)
		} else {
			out = append(out, accum)
		}
		accum = ""
	}

	for _, b := range blocks {
		if accum == "" {
			accum = b
			continue
		}
		if len(accum)+len(b)+2 <= opts.TargetSize {
			accum += "\n\n" + b
		} else {
			emit()
			accum = b
		}
	}
	emit()

	return out
}

func hardSplit(text string, target int) []string {
	var out []string
	var current []string
	size := 0

	for _, line := range strings.Split(text, "\n") {
		if size+len(line) > target && len(current) > 0 {
			if piece := strings.TrimSpace(strings.Join(current, "\n")); piece != "" {
				out = append(out, piece)
			}
			current = current[:0]
			size = 0
		}
		current = append(current, line)
		size += len(line) + 1
	}
	if piece := strings.TrimSpace(strings.Join(current, "\n")); piece != "" {
		out = append(out, piece)
	}
	return out
}

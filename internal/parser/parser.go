package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/songquiz/internal/domain"
	"github.com/conorfennell/songquiz/internal/validation"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "Answer:"
	audioPrefix    = "Audio:"
	idPrefix       = "ID:"
	songPrefix     = "Song:"
	localePrefix   = "Locale:"
	separator      = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingOption
	readingMeta
)

// ParseFile reads a question bank from the given path. Questions default to
// a song named after the file.
func ParseFile(path string) ([]domain.Question, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	song := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(file, song)
}

// Parse reads a question bank from r. Valid questions are always returned;
// invalid ones are reported together in the error.
func Parse(r io.Reader, defaultSong string) ([]domain.Question, error) {
	scanner := bufio.NewScanner(r)
	var (
		questions     []domain.Question
		problems      []error
		current       domain.Question
		currentBlock  []string
		currentOption string
		startLine     int
		lineNo        int
	)
	currentState := seeking
	song, locale := defaultSong, domain.DefaultLocale

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(currentBlock, "\n"))
		switch currentState {
		case readingQuestion:
			current.Question = content
		case readingOption:
			setOption(&current.Options, currentOption, content)
		}
		currentBlock = nil
	}

	finishQuestion := func() {
		flushBlock()
		if currentState != seeking {
			current.SongID = song
			current.Locale = locale
			current.Position = len(questions)
			if err := validation.Struct(current); err != nil {
				problems = append(problems, fmt.Errorf("question at line %d: %w", startLine, err))
			} else {
				questions = append(questions, current)
			}
		}
		current = domain.Question{}
		currentState = seeking
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == separator {
			finishQuestion()
			continue
		}

		if v, ok := cutPrefix(line, questionPrefix); ok {
			finishQuestion()
			currentState = readingQuestion
			startLine = lineNo
			currentBlock = append(currentBlock, v)
			continue
		}

		if v, ok := cutPrefix(line, songPrefix); ok {
			finishQuestion()
			song = strings.TrimSpace(v)
			continue
		}
		if v, ok := cutPrefix(line, localePrefix); ok {
			finishQuestion()
			locale = strings.TrimSpace(v)
			continue
		}

		if currentState == seeking {
			continue
		}

		if label, v, ok := optionLine(line); ok {
			flushBlock()
			currentState = readingOption
			currentOption = label
			currentBlock = append(currentBlock, v)
			continue
		}

		if v, ok := cutPrefix(line, answerPrefix); ok {
			flushBlock()
			currentState = readingMeta
			current.Correct = strings.ToLower(strings.TrimSpace(v))
			continue
		}
		if v, ok := cutPrefix(line, audioPrefix); ok {
			flushBlock()
			currentState = readingMeta
			if cid := strings.TrimSpace(v); cid != "" {
				current.AudioCID = &cid
			}
			continue
		}
		if v, ok := cutPrefix(line, idPrefix); ok {
			flushBlock()
			currentState = readingMeta
			current.UUID = strings.ToLower(strings.TrimSpace(v))
			continue
		}

		if currentState != readingMeta {
			currentBlock = append(currentBlock, line)
		}
	}

	finishQuestion() // Finish the very last question in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return questions, errors.Join(problems...)
}

// cutPrefix is strings.CutPrefix that also drops one optional space after
// the prefix.
func cutPrefix(line, prefix string) (string, bool) {
	v, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(v, " "), true
}

// optionLine recognizes "A) text" through "D) text", in either case.
func optionLine(line string) (label, text string, ok bool) {
	if len(line) < 2 || line[1] != ')' {
		return "", "", false
	}
	label = strings.ToLower(line[:1])
	switch label {
	case "a", "b", "c", "d":
		return label, strings.TrimPrefix(line[2:], " "), true
	}
	return "", "", false
}

func setOption(o *domain.Options, label, text string) {
	switch label {
	case "a":
		o.A = text
	case "b":
		o.B = text
	case "c":
		o.C = text
	case "d":
		o.D = text
	}
}

// Package asm assembles a textual mnemonic listing into the instruction model
// used by the analyzer.
//
// One instruction per line, optionally preceded by a label:
//
//	loop:   iload_1
//	        ifeq done
//	        goto loop
//	done:   return
//	.catch loop done handler Ljava/io/IOException;
//
// Branch operands are labels or instruction indices. Comments start with "//".
// Operand counts follow the analyzer's element model: pop2 and the dup2
// family move two elements, so a long is popped with pop.
package asm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/bcverify/pkg/instr"
)

// Code is an assembled method body.
type Code struct {
	Instructions []instr.Instruction
	Handlers     [][]instr.ExceptionHandler
	// Labels maps label names to instruction indices.
	Labels map[string]int
	// Lines holds the 1-based source line of each instruction.
	Lines []int
}

type line struct {
	num  int
	op   string
	args []string
}

type catchRange struct {
	num                 int
	start, end, handler string
	class               string
}

// Parse assembles src.
func Parse(src string) (*Code, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return ParseLines(lines)
}

// ParseLines assembles a listing given as individual lines.
func ParseLines(src []string) (*Code, error) {
	var (
		insns   []line
		catches []catchRange
		pending []string
	)
	labels := make(map[string]int)

	for n, text := range src {
		num := n + 1
		fields, err := tokenize(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", num, err)
		}
		for len(fields) > 0 && strings.HasSuffix(fields[0], ":") && !strings.HasPrefix(fields[0], "\"") {
			name := strings.TrimSuffix(fields[0], ":")
			if name == "" {
				return nil, fmt.Errorf("line %d: empty label", num)
			}
			if _, dup := labels[name]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q", num, name)
			}
			labels[name] = len(insns)
			pending = append(pending, name)
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}

		if fields[0] == ".catch" {
			if len(fields) < 4 || len(fields) > 5 {
				return nil, fmt.Errorf("line %d: usage: .catch START END HANDLER [CLASS]", num)
			}
			c := catchRange{num: num, start: fields[1], end: fields[2], handler: fields[3]}
			if len(fields) == 5 && fields[4] != "any" {
				c.class = fields[4]
			}
			catches = append(catches, c)
			continue
		}

		insns = append(insns, line{num: num, op: strings.ToLower(fields[0]), args: fields[1:]})
		pending = nil
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("label %q does not precede an instruction", pending[0])
	}

	code := &Code{
		Instructions: make([]instr.Instruction, len(insns)),
		Handlers:     make([][]instr.ExceptionHandler, len(insns)),
		Labels:       labels,
		Lines:        make([]int, len(insns)),
	}
	p := &parser{labels: labels, count: len(insns)}
	for i, l := range insns {
		in, err := p.instruction(l.op, l.args)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", l.num, l.op, err)
		}
		code.Instructions[i] = in
		code.Lines[i] = l.num
	}

	for _, c := range catches {
		start, err := p.target(c.start)
		if err != nil {
			return nil, fmt.Errorf("line %d: .catch: %w", c.num, err)
		}
		end, err := p.bound(c.end)
		if err != nil {
			return nil, fmt.Errorf("line %d: .catch: %w", c.num, err)
		}
		handler, err := p.target(c.handler)
		if err != nil {
			return nil, fmt.Errorf("line %d: .catch: %w", c.num, err)
		}
		if end < start {
			return nil, fmt.Errorf("line %d: .catch: range end precedes start", c.num)
		}
		for i := start; i < end; i++ {
			code.Handlers[i] = append(code.Handlers[i], instr.ExceptionHandler{Handler: handler, CatchClass: c.class})
		}
	}
	return code, nil
}

// tokenize splits a line into fields, keeping quoted strings intact and
// dropping comments.
func tokenize(text string) ([]string, error) {
	var fields []string
	for i := 0; i < len(text); {
		switch c := text[i]; {
		case c == ' ' || c == '\t' || c == ',':
			i++
		case strings.HasPrefix(text[i:], "//"):
			return fields, nil
		case c == '"':
			j := i + 1
			for j < len(text) && text[j] != '"' {
				if text[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(text) {
				return nil, fmt.Errorf("unterminated string")
			}
			fields = append(fields, text[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(text) && text[j] != ' ' && text[j] != '\t' && text[j] != ',' {
				j++
			}
			fields = append(fields, text[i:j])
			i = j
		}
	}
	return fields, nil
}

type parser struct {
	labels map[string]int
	count  int
}

// target resolves a branch operand to an instruction index.
func (p *parser) target(s string) (int, error) {
	if i, ok := p.labels[s]; ok {
		if i >= p.count {
			return 0, fmt.Errorf("label %q has no instruction", s)
		}
		return i, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown label %q", s)
	}
	if i < 0 || i >= p.count {
		return 0, fmt.Errorf("target %d out of range", i)
	}
	return i, nil
}

// bound is like target but also accepts the index one past the last instruction.
func (p *parser) bound(s string) (int, error) {
	if _, ok := p.labels[s]; ok {
		return p.target(s)
	}
	if s == "end" {
		return p.count, nil
	}
	if i, err := strconv.Atoi(s); err == nil && i == p.count {
		return i, nil
	}
	return p.target(s)
}

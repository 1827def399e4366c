package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/glorpus-work/datasets/pkg/errors"
)

// maxExpansion bounds how many paths a single template may produce.
const maxExpansion = 100000

// Expand expands brace groups in a path template. "{0..2}" yields 0, 1, 2;
// "{000..056}" keeps the zero padding; "{a,b}" yields each alternative.
// Groups multiply left to right. A template without braces yields itself.
func Expand(template string) ([]string, error) {
	out, err := expand(template)
	if err != nil {
		return nil, fmt.Errorf("%w: template %q: %w", errors.ErrCatalogParse, template, err)
	}
	return out, nil
}

func expand(template string) ([]string, error) {
	open := strings.IndexByte(template, '{')
	if open < 0 {
		if strings.IndexByte(template, '}') >= 0 {
			return nil, fmt.Errorf("unbalanced '}'")
		}
		return []string{template}, nil
	}
	end := strings.IndexByte(template[open:], '}')
	if end < 0 {
		return nil, fmt.Errorf("unbalanced '{'")
	}
	end += open

	head, body, tail := template[:open], template[open+1:end], template[end+1:]
	if strings.IndexByte(head, '}') >= 0 {
		return nil, fmt.Errorf("unbalanced '}'")
	}
	alternatives, err := group(body)
	if err != nil {
		return nil, err
	}
	rest, err := expand(tail)
	if err != nil {
		return nil, err
	}
	if len(alternatives)*len(rest) > maxExpansion {
		return nil, fmt.Errorf("expands to more than %d paths", maxExpansion)
	}

	out := make([]string, 0, len(alternatives)*len(rest))
	for _, a := range alternatives {
		for _, r := range rest {
			out = append(out, head+a+r)
		}
	}
	return out, nil
}

func group(body string) ([]string, error) {
	if lo, hi, ok := strings.Cut(body, ".."); ok {
		return numericRange(lo, hi)
	}
	if !strings.Contains(body, ",") {
		return nil, fmt.Errorf("brace group {%s} is neither a range nor a list", body)
	}
	return strings.Split(body, ","), nil
}

func numericRange(lo, hi string) ([]string, error) {
	from, err := strconv.Atoi(lo)
	if err != nil {
		return nil, fmt.Errorf("range start %q: %w", lo, err)
	}
	to, err := strconv.Atoi(hi)
	if err != nil {
		return nil, fmt.Errorf("range end %q: %w", hi, err)
	}
	if to < from {
		return nil, fmt.Errorf("range {%s..%s} is descending", lo, hi)
	}
	if to-from >= maxExpansion {
		return nil, fmt.Errorf("range {%s..%s} is too large", lo, hi)
	}
	width := 0
	if len(lo) > 1 && lo[0] == '0' {
		width = len(lo)
	}
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%0*d", width, i))
	}
	return out, nil
}

package main // import "github.com/tcolgate/catcam"

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	datestampLayout = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// TemplateError reports a page template that could not be read or that
// references a placeholder with no value.
type TemplateError struct {
	Path string
	Name string
	Err  error
}

func (e *TemplateError) Error() string {
	switch {
	case e.Name != "" && e.Path != "":
		return fmt.Sprintf("template %s: placeholder %q: %v", e.Path, e.Name, e.Err)
	case e.Name != "":
		return fmt.Sprintf("template: placeholder %q: %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("template %s: %v", e.Path, e.Err)
	}
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

var (
	errNoValue            = errors.New("no value")
	errInvalidPlaceholder = errors.New("invalid placeholder")
)

// Render reads the template at path and substitutes its placeholders.
func Render(path string, subs map[string]string) (string, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return "", &TemplateError{Path: path, Err: errors.Wrap(err, "reading template")}
	}

	out, err := Expand(string(bs), subs)
	if err != nil {
		if terr, ok := err.(*TemplateError); ok {
			terr.Path = path
		}
		return "", err
	}
	return out, nil
}

// Expand replaces ${name} and $name with their value from subs. $$ is a
// literal dollar.
func Expand(text string, subs map[string]string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(text))

	for {
		i := strings.IndexByte(text, '$')
		if i < 0 {
			sb.WriteString(text)
			return sb.String(), nil
		}
		sb.WriteString(text[:i])
		text = text[i+1:]

		var name string
		switch {
		case strings.HasPrefix(text, "$"):
			sb.WriteByte('$')
			text = text[1:]
			continue
		case strings.HasPrefix(text, "{"):
			end := strings.IndexByte(text, '}')
			if end < 0 {
				return "", &TemplateError{Name: "${", Err: errInvalidPlaceholder}
			}
			if !isIdentifier(text[1:end]) {
				return "", &TemplateError{Name: text[1:end], Err: errInvalidPlaceholder}
			}
			name = text[1:end]
			text = text[end+1:]
		default:
			n := identifierLen(text)
			if n == 0 {
				return "", &TemplateError{Name: "$", Err: errInvalidPlaceholder}
			}
			name = text[:n]
			text = text[n:]
		}

		v, ok := subs[name]
		if !ok {
			return "", &TemplateError{Name: name, Err: errNoValue}
		}
		sb.WriteString(v)
	}
}

func identifierLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return i
		}
	}
	return len(s)
}

func isIdentifier(s string) bool {
	return s != "" && identifierLen(s) == len(s)
}

var normalizer = strings.NewReplacer(
	"\r", ".",
	"\n", " ",
	">NaT<", "><",
)

// Normalize flattens line endings and drops empty timestamp cells.
func Normalize(text string) string {
	return normalizer.Replace(text)
}

func indexPage(path, version string) ([]byte, error) {
	html, err := Render(path, map[string]string{
		"cam_version": version,
	})
	if err != nil {
		return nil, err
	}
	return []byte(Normalize(html)), nil
}

func summaryPage(path string, now time.Time) ([]byte, error) {
	html, err := Render(path, map[string]string{
		"datestamp": now.Format(datestampLayout),
		"timestamp": now.Format(timestampLayout),
	})
	if err != nil {
		return nil, err
	}
	return []byte(Normalize(html)), nil
}

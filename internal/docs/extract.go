// Package docs turns uploaded clinical documents into plain text that can be
// carried in the profile context.
package docs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/talbotapp/talbot/internal/profile"
)

var (
	// ErrUnsupported is returned by Extract for formats it cannot read.
	ErrUnsupported = errors.New("unsupported document format")
	// ErrTooLarge is returned for uploads above profile.MaxDocumentSize.
	ErrTooLarge = profile.ErrDocumentTooLarge
)

// Kind is the extraction strategy for a document.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindHTML
	KindPDF
)

// Detect picks a Kind from the MIME type, falling back to the file extension.
func Detect(name, mimeType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch {
	case mt == "application/pdf":
		return KindPDF
	case mt == "text/html" || mt == "application/xhtml+xml":
		return KindHTML
	case strings.HasPrefix(mt, "text/"):
		return KindText
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".html", ".htm":
		return KindHTML
	case ".txt", ".md", ".markdown":
		return KindText
	}
	return KindUnknown
}

// Extract returns the plain text of a document. Formats other than text,
// HTML and PDF yield ErrUnsupported.
func Extract(name, mimeType string, data []byte) (string, error) {
	switch Detect(name, mimeType) {
	case KindText:
		return strings.ToValidUTF8(string(data), "�"), nil
	case KindHTML:
		return extractHTML(data)
	case KindPDF:
		return extractPDF(data)
	default:
		return "", fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
}

// Placeholder describes a document whose text could not be extracted.
func Placeholder(name, mimeType string, size int64) string {
	return fmt.Sprintf("Document: %s (%s)\nType: %s\n\n[Document uploaded - content could not be extracted]", name, FormatSize(size), mimeType)
}

// FormatSize renders a byte count as e.g. "1.5 KB".
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := min(int(math.Floor(math.Log(float64(n))/math.Log(1024))), len(units)-1)
	v := float64(n) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + units[i]
}

func extractPDF(data []byte) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	walkHTML(doc, &sb, 0)
	return cleanText(sb.String()), nil
}

func walkHTML(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 100 {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "head":
			return
		case "br":
			sb.WriteString("\n")
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "table", "ul", "ol":
			sb.WriteString("\n\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, sb, depth+1)
	}
}

// cleanText trims every line and collapses runs of blank lines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

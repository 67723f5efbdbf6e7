package docs

import (
	"errors"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name, mime string
		want       Kind
	}{
		{"notes.txt", "text/plain", KindText},
		{"notes", "text/plain; charset=utf-8", KindText},
		{"letter.html", "", KindHTML},
		{"letter", "text/html", KindHTML},
		{"report.PDF", "", KindPDF},
		{"report", "application/pdf", KindPDF},
		{"summary.md", "application/octet-stream", KindText},
		{"scan.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindUnknown},
	}
	for _, tt := range tests {
		if got := Detect(tt.name, tt.mime); got != tt.want {
			t.Errorf("Detect(%q, %q) = %v, want %v", tt.name, tt.mime, got, tt.want)
		}
	}
}

func TestExtract_Text(t *testing.T) {
	got, err := Extract("plan.txt", "text/plain", []byte("Safety plan:\ncall Jo"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Safety plan:\ncall Jo" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>skip me</title><style>p{}</style></head>
<body><h1>Discharge summary</h1><script>alert(1)</script>
<p>Diagnosis:   BPD</p><ul><li>DBT weekly</li><li>Sertraline</li></ul></body></html>`

	got, err := Extract("summary.html", "text/html", []byte(page))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"Discharge summary", "Diagnosis: BPD", "- DBT weekly", "- Sertraline"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	for _, bad := range []string{"skip me", "alert", "p{}"} {
		if strings.Contains(got, bad) {
			t.Errorf("unexpected %q in:\n%s", bad, got)
		}
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank lines not collapsed:\n%q", got)
	}
}

func TestExtract_Unsupported(t *testing.T) {
	_, err := Extract("scan.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestExtract_MalformedPDF(t *testing.T) {
	_, err := Extract("report.pdf", "application/pdf", []byte("not a pdf"))
	if err == nil {
		t.Fatal("expected error for malformed pdf")
	}
	if errors.Is(err, ErrUnsupported) {
		t.Error("malformed pdf reported as unsupported")
	}
}

func TestPlaceholder(t *testing.T) {
	got := Placeholder("scan.png", "image/png", 1536)
	want := "Document: scan.png (1.5 KB)\nType: image/png\n\n[Document uploaded - content could not be extracted]"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 Bytes"},
		{512, "512 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.n); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

package ocr

import (
	"context"
	"errors"
	"testing"

	"rechnungen/internal/config"
)

type stubLayer string

func (s stubLayer) ExtractText(ctx context.Context, data []byte) string { return string(s) }

type stubRecognizer struct {
	result *Result
	err    error
	calls  int
}

func (s *stubRecognizer) Name() string { return "stub" }

func (s *stubRecognizer) Recognize(ctx context.Context, data []byte) (*Result, error) {
	s.calls++
	return s.result, s.err
}

func TestChainPrefersTextLayer(t *testing.T) {
	recognizer := &stubRecognizer{result: &Result{Text: "ocr"}}
	chain := NewChain(stubLayer("Rechnungsnummer: 1"), recognizer)

	if got := chain.ExtractText(context.Background(), []byte("%PDF")); got != "Rechnungsnummer: 1" {
		t.Errorf("ExtractText = %q", got)
	}
	if recognizer.calls != 0 {
		t.Errorf("OCR called although the text layer had text")
	}
}

func TestChainFallsBackToOCR(t *testing.T) {
	recognizer := &stubRecognizer{result: &Result{Text: "Rechnung aus dem Scan", PageCount: 1}}
	chain := NewChain(stubLayer("  \n"), recognizer)

	if got := chain.ExtractText(context.Background(), []byte("%PDF")); got != "Rechnung aus dem Scan" {
		t.Errorf("ExtractText = %q", got)
	}
	if recognizer.calls != 1 {
		t.Errorf("OCR called %d times", recognizer.calls)
	}
}

func TestChainSwallowsOCRFailure(t *testing.T) {
	recognizer := &stubRecognizer{err: WrapOCRError("stub", ErrOCRFailed, "quota")}
	chain := NewChain(stubLayer(""), recognizer)

	if got := chain.ExtractText(context.Background(), []byte("x")); got != "" {
		t.Errorf("ExtractText = %q, want empty", got)
	}
}

func TestChainWithoutRecognizer(t *testing.T) {
	chain := NewChain(stubLayer(""), nil)
	if got := chain.ExtractText(context.Background(), []byte("x")); got != "" {
		t.Errorf("ExtractText = %q, want empty", got)
	}
	if err := chain.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := chain.Recognize(context.Background(), []byte("x")); !errors.Is(err, ErrMissingConfiguration) {
		t.Errorf("Recognize without backend: err = %v", err)
	}
}

func TestChainRecognizeSkipsTextLayer(t *testing.T) {
	recognizer := &stubRecognizer{result: &Result{Text: "Scan", PageCount: 2}}
	chain := NewChain(stubLayer("Textebene"), recognizer)

	result, err := chain.Recognize(context.Background(), []byte("%PDF"))
	if err != nil || result.Text != "Scan" || recognizer.calls != 1 {
		t.Errorf("Recognize = %+v, %v (calls %d)", result, err, recognizer.calls)
	}
}

func TestNewTextLayerOnly(t *testing.T) {
	chain, err := New(context.Background(), &config.Config{TextBackend: config.TextBackendPDF})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if chain.recognizer != nil {
		t.Errorf("pdf backend must not create an OCR client")
	}
}

func TestNewRejectsIncompleteDocumentAI(t *testing.T) {
	_, err := New(context.Background(), &config.Config{TextBackend: config.TextBackendDocumentAI})
	if !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("err = %v, want ErrMissingConfiguration", err)
	}
}

func TestOCRErrorWrapping(t *testing.T) {
	err := WrapOCRError("Recognize", ErrTooManyPages, "7 pages")
	if !errors.Is(err, ErrTooManyPages) {
		t.Errorf("errors.Is failed for %v", err)
	}
	if again := WrapOCRError("outer", err, ""); again != err {
		t.Errorf("already wrapped error was wrapped twice")
	}
	if WrapOCRError("op", nil, "") != nil {
		t.Errorf("nil error must stay nil")
	}
}

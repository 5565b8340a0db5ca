package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

const (
	// MaxDocumentSizeBytes is the maximum document size for synchronous processing (20MB)
	MaxDocumentSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the maximum number of pages Vision annotates synchronously
	MaxPagesSync = 5
)

// VisionRecognizer runs Google Cloud Vision document text detection.
type VisionRecognizer struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionRecognizer creates the Vision client with the given credential options.
func NewVisionRecognizer(ctx context.Context, opts ...option.ClientOption) (*VisionRecognizer, error) {
	const op = "NewVisionRecognizer"

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}
	return &VisionRecognizer{client: client}, nil
}

// Name implements Recognizer.
func (g *VisionRecognizer) Name() string { return "vision" }

// Recognize implements Recognizer. PDFs and TIFFs go through the file
// annotation endpoint, everything else is treated as an image.
func (g *VisionRecognizer) Recognize(ctx context.Context, data []byte) (*Result, error) {
	const op = "VisionRecognizer.Recognize"
	startTime := time.Now()

	if len(data) > MaxDocumentSizeBytes {
		return nil, WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(data)))
	}

	var responses []*visionpb.AnnotateImageResponse
	features := []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}}

	if mime := fileMimeType(data); mime != "" {
		resp, err := g.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
			Requests: []*visionpb.AnnotateFileRequest{{
				InputConfig: &visionpb.InputConfig{Content: data, MimeType: mime},
				Features:    features,
			}},
		})
		if err != nil {
			return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
		}
		if len(resp.Responses) == 0 {
			return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
		}
		fileResp := resp.Responses[0]
		if fileResp.Error != nil {
			return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", fileResp.Error.Message))
		}
		responses = fileResp.Responses
	} else {
		resp, err := g.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
			Requests: []*visionpb.AnnotateImageRequest{{
				Image:    &visionpb.Image{Content: data},
				Features: features,
			}},
		})
		if err != nil {
			return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
		}
		responses = resp.Responses
	}

	result, err := collectPages(responses)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to process Vision API response")
	}
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)
	return result, nil
}

// collectPages joins the per-page annotations in page order.
func collectPages(pages []*visionpb.AnnotateImageResponse) (*Result, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(pages) > MaxPagesSync {
		return nil, fmt.Errorf("%w: document has %d pages", ErrTooManyPages, len(pages))
	}

	var allText strings.Builder
	var confidenceSum float32
	var confidenceCount int
	languageSet := make(map[string]bool)

	for pageIdx, page := range pages {
		if page.Error != nil {
			return nil, fmt.Errorf("error processing page %d: %s", pageIdx+1, page.Error.Message)
		}
		if page.FullTextAnnotation == nil {
			continue
		}
		if allText.Len() > 0 {
			allText.WriteString("\n")
		}
		allText.WriteString(page.FullTextAnnotation.Text)

		for _, p := range page.FullTextAnnotation.Pages {
			if p.Confidence > 0 {
				confidenceSum += p.Confidence
				confidenceCount++
			}
			if p.Property == nil {
				continue
			}
			for _, lang := range p.Property.DetectedLanguages {
				if lang.LanguageCode != "" {
					languageSet[lang.LanguageCode] = true
				}
			}
		}
	}

	text := allText.String()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	var avgConfidence float32
	if confidenceCount > 0 {
		avgConfidence = confidenceSum / float32(confidenceCount)
	}
	languages := make([]string, 0, len(languageSet))
	for lang := range languageSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return &Result{
		Text:          text,
		PageCount:     len(pages),
		Confidence:    avgConfidence,
		LanguageCodes: languages,
	}, nil
}

// fileMimeType returns the mime type for the file annotation endpoint, or ""
// for plain images.
func fileMimeType(data []byte) string {
	switch {
	case len(data) >= 4 && string(data[:4]) == "%PDF":
		return "application/pdf"
	case len(data) >= 4 && (string(data[:4]) == "II*\x00" || string(data[:4]) == "MM\x00*"):
		return "image/tiff"
	}
	return ""
}

// Close closes the underlying Vision client.
func (g *VisionRecognizer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

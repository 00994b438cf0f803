// ABOUTME: Image generation and editing over the Gemini API
// ABOUTME: Imagen for new images, flash-image for edits, lite for prompt rewrites
package image

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Errors surfaced when the API returns no usable image.
var (
	ErrMissingAPIKey = errors.New("image: API key required")
	ErrNoImage       = errors.New("image: response contained no image")
)

// AspectRatio values accepted by the image model.
const (
	AspectSquare    = "1:1"
	AspectPortrait  = "3:4"
	AspectLandscape = "4:3"
	AspectTall      = "9:16"
	AspectWide      = "16:9"
)

// Models selects which model serves each image operation.
type Models struct {
	// Imagen generates new images from text.
	Imagen string
	// FlashImage edits an existing image in place.
	FlashImage string
	// FlashLite rewrites user ideas into detailed prompts.
	FlashLite string
}

// DefaultModels are the models used when the config names none.
func DefaultModels() Models {
	return Models{
		Imagen:     "imagen-4.0-generate-001",
		FlashImage: "gemini-2.5-flash-image",
		FlashLite:  "gemini-2.5-flash-lite",
	}
}

// Result is a produced image.
type Result struct {
	Data     []byte
	MimeType string
}

// Service issues image requests against the Gemini API.
type Service struct {
	client *genai.Client
	models Models
}

// NewService builds the Gemini client for image work.
func NewService(ctx context.Context, apiKey string, models Models) (*Service, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	def := DefaultModels()
	if models.Imagen == "" {
		models.Imagen = def.Imagen
	}
	if models.FlashImage == "" {
		models.FlashImage = def.FlashImage
	}
	if models.FlashLite == "" {
		models.FlashLite = def.FlashLite
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Service{client: client, models: models}, nil
}

// Generate produces one PNG from prompt at the given aspect ratio.
func (s *Service) Generate(ctx context.Context, prompt, aspectRatio string) (*Result, error) {
	if aspectRatio == "" {
		aspectRatio = AspectSquare
	}
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
		AspectRatio:    aspectRatio,
	}
	resp, err := s.client.Models.GenerateImages(ctx, s.models.Imagen, prompt, cfg)
	if err != nil {
		return nil, fmt.Errorf("generating image: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, ErrNoImage
	}
	img := resp.GeneratedImages[0].Image
	return &Result{Data: img.ImageBytes, MimeType: "image/png"}, nil
}

// Edit applies prompt to an existing image and returns the edited image.
func (s *Service) Edit(ctx context.Context, prompt string, image []byte, mimeType string) (*Result, error) {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: image, MIMEType: mimeType}},
			{Text: prompt},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
	}
	resp, err := s.client.Models.GenerateContent(ctx, s.models.FlashImage, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("editing image: %w", err)
	}
	return firstInlineImage(resp)
}

const enhanceTemplate = `You are an expert prompt engineer for a text-to-image model. Rewrite the following simple user idea into a rich, detailed, and visually descriptive prompt. Focus on adding sensory details, composition, lighting, and style.

User Idea: %q

Enhanced Prompt:`

// EnhancePrompt rewrites a short idea into a detailed image prompt.
func (s *Service) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(enhanceTemplate, prompt), genai.RoleUser),
	}
	resp, err := s.client.Models.GenerateContent(ctx, s.models.FlashLite, contents, nil)
	if err != nil {
		return "", fmt.Errorf("enhancing prompt: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func firstInlineImage(resp *genai.GenerateContentResponse) (*Result, error) {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Result{
					Data:     part.InlineData.Data,
					MimeType: part.InlineData.MIMEType,
				}, nil
			}
		}
	}
	return nil, ErrNoImage
}

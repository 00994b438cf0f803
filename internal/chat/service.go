// ABOUTME: Conversational text service over the Gemini API
// ABOUTME: Streams replies, routes tool hints, and analyzes attached images
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

// ErrMissingAPIKey reports service construction without credentials.
var ErrMissingAPIKey = errors.New("chat: API key required")

// Models selects which Gemini model serves each request class.
type Models struct {
	// Flash handles multimodal requests.
	Flash string
	// FlashLite handles chat turns and cheap classification calls.
	FlashLite string
}

// DefaultModels are the models used when the config names none.
func DefaultModels() Models {
	return Models{
		Flash:     "gemini-2.5-flash",
		FlashLite: "gemini-2.5-flash-lite",
	}
}

const systemInstruction = "You are a helpful and professional AI assistant named Orbit. " +
	"Answer clearly and concisely, and say so when you are unsure."

// Turn is one prior exchange in the conversation, replayed as context.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// ToolHints marks which grounding tools a reply should use.
type ToolHints struct {
	UseSearch bool `json:"useSearch"`
	UseMaps   bool `json:"useMaps"`
}

// Location is a coarse position hint passed to the maps tool.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Source is a grounding citation attached to a streamed chunk.
type Source struct {
	Title string
	URI   string
}

// Chunk is one streamed piece of a model reply.
type Chunk struct {
	Text    string
	Sources []Source
}

// Service issues text requests against the Gemini API.
type Service struct {
	client *genai.Client
	models Models
}

// NewService builds the Gemini client. models zero-values fall back to
// DefaultModels.
func NewService(ctx context.Context, apiKey string, models Models) (*Service, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if models.Flash == "" {
		models.Flash = DefaultModels().Flash
	}
	if models.FlashLite == "" {
		models.FlashLite = DefaultModels().FlashLite
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

// StreamRequest describes one chat turn to send.
type StreamRequest struct {
	History  []Turn
	Prompt   string
	Hints    ToolHints
	Location *Location
}

// SendMessageStream sends a chat turn and streams the reply. Chunks
// arrive on the returned channel in order; the error channel delivers at
// most one value after the chunk channel closes.
func (s *Service) SendMessageStream(ctx context.Context, req StreamRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 8)
	errc := make(chan error, 1)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	if req.Hints.UseSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if req.Hints.UseMaps {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		if req.Location != nil {
			cfg.ToolConfig = &genai.ToolConfig{
				RetrievalConfig: &genai.RetrievalConfig{
					LatLng: &genai.LatLng{
						Latitude:  &req.Location.Latitude,
						Longitude: &req.Location.Longitude,
					},
				},
			}
		}
	}

	contents := historyContents(req.History)
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	go func() {
		defer close(chunks)
		defer close(errc)
		for resp, err := range s.client.Models.GenerateContentStream(ctx, s.models.FlashLite, contents, cfg) {
			if err != nil {
				errc <- fmt.Errorf("streaming reply: %w", err)
				return
			}
			chunk := Chunk{Text: resp.Text(), Sources: groundingSources(resp)}
			if chunk.Text == "" && len(chunk.Sources) == 0 {
				continue
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errc
}

// AnalyzeImage answers prompt about the attached image.
func (s *Service) AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: image, MIMEType: mimeType}},
			{Text: prompt},
		},
	}}
	resp, err := s.client.Models.GenerateContent(ctx, s.models.Flash, contents, nil)
	if err != nil {
		return "", fmt.Errorf("analyzing image: %w", err)
	}
	return resp.Text(), nil
}

const toolAnalysisPrompt = `Analyze the user's query. Your goal is to determine if external tools are *necessary*.
- Suggest Google Search (useSearch: true) ONLY for queries about very recent events (today/yesterday), real-time data (stock prices, weather), or specific, obscure facts that a large language model might not know. Do NOT suggest it for general knowledge, creative tasks, or summarization.
- Suggest Google Maps (useMaps: true) ONLY for queries that explicitly ask for directions, locations, or "near me" information.

Query: %q

Respond with ONLY a JSON object with two boolean keys: "useSearch" and "useMaps".`

// AnalyzeQueryForTools classifies whether a query needs search or maps
// grounding. Very short queries and classification failures both resolve
// to no tools; the chat still works without them.
func (s *Service) AnalyzeQueryForTools(ctx context.Context, query string) (ToolHints, error) {
	if len([]rune(strings.TrimSpace(query))) < 5 {
		return ToolHints{}, nil
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"useSearch": {Type: genai.TypeBoolean},
				"useMaps":   {Type: genai.TypeBoolean},
			},
		},
	}
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(toolAnalysisPrompt, query), genai.RoleUser),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.models.FlashLite, contents, cfg)
	if err != nil {
		log.Printf("Tool analysis failed, continuing without tools: %v", err)
		return ToolHints{}, nil
	}

	var hints ToolHints
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &hints); err != nil {
		log.Printf("Tool analysis returned malformed JSON: %v", err)
		return ToolHints{}, nil
	}
	return hints, nil
}

func historyContents(history []Turn) []*genai.Content {
	var contents []*genai.Content
	for _, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

func groundingSources(resp *genai.GenerateContentResponse) []Source {
	var sources []Source
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil {
				continue
			}
			sources = append(sources, Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
	}
	return sources
}

// Package ai is the judgment gateway: it sends photo evidence to an external
// vision model and normalizes whatever comes back into a Judgment. Transport
// failures are surfaced as upstream errors. Unparseable model output is not
// an error; the user can simply retake the photo and resubmit.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/webclient"
)

const (
	unparseableHint   = "judgment response could not be read, please try again"
	lowConfidenceHint = "confidence below threshold, retake the photo with the subject clearly visible"

	receiptSystemPrompt = "You are a receipt image analysis assistant. " +
		"You will be given an image of a receipt. Read the receipt directly from the image " +
		"and determine whether the target product name appears in it.\n" +
		"IMPORTANT RULES:\n" +
		"- Read every line of the receipt image carefully.\n" +
		"- Match by CHARACTER SHAPE SIMILARITY ONLY. Do NOT consider semantic meaning or product categories.\n" +
		"- NEVER increase confidence based on semantic similarity (same category, related meaning, etc.).\n" +
		"- IGNORE whitespace differences in product names.\n" +
		"- If the image is too blurry or unreadable, set match to false and provide a helpful retryHint.\n" +
		"Respond ONLY with a JSON object: " +
		`{"match": true/false, "confidence": 0.0-1.0, "retryHint": "string or null", "reason": "brief explanation"}`

	inventorySystemPrompt = "You are an inventory verification assistant. " +
		"Compare the user's photo (first image) with the reference product image (second image) " +
		"and determine if they show the SAME product.\n" +
		"IMPORTANT RULES:\n" +
		"- Judge by PRODUCT IDENTITY: same brand, same product name, same packaging design.\n" +
		"- Different flavors, sizes, or variants of the same brand are DIFFERENT products.\n" +
		"- IGNORE differences caused by shooting angle, lighting, background, or image quality.\n" +
		"- If the product is not clearly visible, set match to false and provide a helpful retryHint.\n" +
		"Respond ONLY with a JSON object: " +
		`{"match": true/false, "confidence": 0.0-1.0, "retryHint": "string or null", "reason": "brief explanation"}`
)

// Judgment is the normalized oracle verdict. Match already folds in the
// confidence threshold; Raw is the payload persisted on the attempt row.
type Judgment struct {
	Match      bool
	Confidence float64
	RetryHint  string
	Raw        string
}

type Config struct {
	BaseURL string // OpenAI-compatible endpoint root
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	imgClient  *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      valueOrDefault(cfg.Model, "gpt-4o"),
		httpClient: webclient.NewDefault(cfg.Timeout),
		imgClient:  webclient.NewDefault(30 * time.Second),
	}
}

// JudgeReceipt asks the oracle whether the receipt photo contains a purchase
// of targetProduct.
func (c *Client) JudgeReceipt(ctx context.Context, imageURL, targetProduct string, threshold float64) (Judgment, error) {
	evidence, err := c.fetchImageDataURL(ctx, imageURL)
	if err != nil {
		return Judgment{}, err
	}
	userContent := []map[string]interface{}{
		{"type": "text", "text": fmt.Sprintf(
			"Read the receipt in this image and determine if it contains a purchase of the target product.\nTarget product: %s\nConfidence threshold: %g",
			targetProduct, threshold)},
		{"type": "image_url", "image_url": map[string]string{"url": evidence}},
	}
	content, err := c.chat(ctx, receiptSystemPrompt, userContent)
	if err != nil {
		return Judgment{}, err
	}
	return parseJudgment(content, threshold), nil
}

// JudgeInventory asks the oracle whether the shelf photo shows the same
// product as the mission's reference image.
func (c *Client) JudgeInventory(ctx context.Context, imageURL, answerImageURL string, threshold float64) (Judgment, error) {
	evidence, err := c.fetchImageDataURL(ctx, imageURL)
	if err != nil {
		return Judgment{}, err
	}
	reference, err := c.fetchImageDataURL(ctx, answerImageURL)
	if err != nil {
		return Judgment{}, err
	}
	userContent := []map[string]interface{}{
		{"type": "text", "text": fmt.Sprintf(
			"Compare these two images. The first is the user's photo, the second is the reference product image. Confidence threshold: %g\nAre they showing the same product?",
			threshold)},
		{"type": "image_url", "image_url": map[string]string{"url": evidence}},
		{"type": "image_url", "image_url": map[string]string{"url": reference}},
	}
	content, err := c.chat(ctx, inventorySystemPrompt, userContent)
	if err != nil {
		return Judgment{}, err
	}
	return parseJudgment(content, threshold), nil
}

// chat performs one blocking chat-completions round trip. Single shot: a
// failed judgment is retried by the user resubmitting, not by this layer.
func (c *Client) chat(ctx context.Context, systemPrompt string, userContent []map[string]interface{}) (string, error) {
	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userContent},
		},
		"max_completion_tokens": 4096,
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewBuffer(b))
	if err != nil {
		return "", errs.Externalf("judgment request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errs.Externalf("judgment API unreachable: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Externalf("judgment API read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.Externalf("judgment API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil || len(result.Choices) == 0 {
		return "", errs.Externalf("judgment API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// parseJudgment normalizes raw model output. A payload that is not the
// expected JSON shape becomes a deterministic retryable verdict rather than
// an error. The oracle's match is downgraded when confidence misses the
// threshold.
func parseJudgment(content string, threshold float64) Judgment {
	cleaned := stripFences(content)
	var parsed struct {
		Match      *bool    `json:"match"`
		Confidence *float64 `json:"confidence"`
		RetryHint  *string  `json:"retryHint"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		log.Printf("ai: unparseable judgment payload: %s", truncate(content, 200))
		fb, _ := json.Marshal(map[string]interface{}{
			"match": false, "confidence": 0.0, "retryHint": unparseableHint,
		})
		return Judgment{Match: false, Confidence: 0, RetryHint: unparseableHint, Raw: string(fb)}
	}

	confidence := 0.0
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	oracleMatch := parsed.Match != nil && *parsed.Match
	match := oracleMatch && confidence >= threshold

	hint := ""
	if parsed.RetryHint != nil {
		hint = *parsed.RetryHint
	}
	if !match && hint == "" {
		hint = lowConfidenceHint
	}

	return Judgment{Match: match, Confidence: confidence, RetryHint: hint, Raw: cleaned}
}

// stripFences removes incidental markdown code-fence wrapping from the
// oracle's answer before parsing.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines[1:] {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// fetchImageDataURL downloads an image and re-encodes it as a base64 data URL
// for the oracle request.
func (c *Client) fetchImageDataURL(ctx context.Context, url string) (string, error) {
	var contentType string
	_, body, err := webclient.DoWithRetry(ctx, 3, 2*time.Second, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return 0, nil, err
		}
		resp, err := c.imgClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, b, fmt.Errorf("status %d", resp.StatusCode)
		}
		contentType = strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return "", errs.Externalf("image fetch failed for %s: %v", url, err)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func valueOrDefault(val, def string) string {
	if val != "" {
		return val
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MedicalProvider calls the multimodal medical inference endpoint, which
// takes one image plus a text prompt as multipart form data.
type MedicalProvider struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewMedicalProvider(url, apiKey string, timeout time.Duration) *MedicalProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MedicalProvider{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

type medicalResp struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

func (p *MedicalProvider) Analyze(ctx context.Context, text string, image []byte, imageName string, maxTokens int) (Reply, error) {
	if p.Client == nil {
		return Reply{}, errors.New("medical: http client is nil")
	}
	if imageName == "" {
		imageName = "upload.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", imageName)
	if err != nil {
		return Reply{}, err
	}
	if _, err := fw.Write(image); err != nil {
		return Reply{}, err
	}
	if err := mw.WriteField("text", text); err != nil {
		return Reply{}, err
	}
	if err := mw.WriteField("max_new_tokens", strconv.Itoa(maxTokens)); err != nil {
		return Reply{}, err
	}
	if err := mw.Close(); err != nil {
		return Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, &body)
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return Reply{}, &APIError{Provider: "medical", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var decoded medicalResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Reply{}, err
	}
	out := Reply{Text: decoded.Response, Model: decoded.Model}
	if out.Text == "" {
		out.Text = "No response received"
	}
	if out.Model == "" {
		out.Model = "Medical API"
	}
	return out, nil
}

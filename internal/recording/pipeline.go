package recording

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/meetsync/internal/config"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Stage string

const (
	StageUploading    Stage = "uploading"
	StageTranscribing Stage = "transcribing"
	StageSummarizing  Stage = "summarizing"
	StageSaving       Stage = "saving"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Status is one progress report of a pipeline run. URL is set once the
// upload has finished.
type Status struct {
	Stage Stage
	URL   string
	Err   error
}

// Meeting is the record persisted by the application backend.
type Meeting struct {
	Title string `json:"title"`
	// AudioURL points at the uploaded Ogg/Opus recording. The backend
	// stores it under videoUrl.
	AudioURL   string `json:"videoUrl"`
	Transcribe string `json:"transcribe"`
	Summary    string `json:"summary"`
}

// Pipeline runs upload, transcription, summarization and persistence in
// sequence. Any stage failure ends the run.
type Pipeline struct {
	cfg    config.Recording
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

func NewPipeline(cfg config.Recording, client *http.Client) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Pipeline{
		cfg:    cfg,
		client: client,
		logger: log.With().Str("module", "recording.pipeline").Logger(),
		now:    time.Now,
	}
}

// Run processes one recording. report, when set, sees every stage change;
// on failure it sees StageFailed only after the configured error delay.
func (p *Pipeline) Run(ctx context.Context, blob []byte, title string, report func(Status)) (Meeting, error) {
	if report == nil {
		report = func(Status) {}
	}
	m, err := p.run(ctx, blob, title, report)
	if err != nil {
		p.logger.Error().Err(err).Str("title", title).Msg("pipeline failed")
		select {
		case <-time.After(p.cfg.ErrorDelay):
		case <-ctx.Done():
		}
		report(Status{Stage: StageFailed, URL: m.AudioURL, Err: err})
		return m, err
	}
	report(Status{Stage: StageDone, URL: m.AudioURL})
	p.logger.Info().Str("title", title).Str("url", m.AudioURL).Msg("meeting saved")
	return m, nil
}

func (p *Pipeline) run(ctx context.Context, blob []byte, title string, report func(Status)) (Meeting, error) {
	m := Meeting{Title: title}

	report(Status{Stage: StageUploading})
	url, err := p.Upload(ctx, blob)
	if err != nil {
		return m, fmt.Errorf("upload: %w", err)
	}
	m.AudioURL = url

	report(Status{Stage: StageTranscribing, URL: url})
	text, err := p.Transcribe(ctx, url)
	if err != nil {
		return m, fmt.Errorf("transcribe: %w", err)
	}
	m.Transcribe = text

	report(Status{Stage: StageSummarizing, URL: url})
	summary, err := p.Summarize(ctx, text)
	if err != nil {
		return m, fmt.Errorf("summarize: %w", err)
	}
	m.Summary = summary

	report(Status{Stage: StageSaving, URL: url})
	if err := p.Save(ctx, m); err != nil {
		return m, fmt.Errorf("save meeting: %w", err)
	}
	return m, nil
}

// Upload stores blob with a signed upload and returns its durable URL.
func (p *Pipeline) Upload(ctx context.Context, blob []byte) (string, error) {
	ts := strconv.FormatInt(p.now().Unix(), 10)
	sum := sha1.Sum([]byte("timestamp=" + ts + p.cfg.APISecret))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	mt := mimetype.Detect(blob)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="recording`+mt.Extension()+`"`)
	h.Set("Content-Type", mt.String())
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(blob); err != nil {
		return "", err
	}
	for k, v := range map[string]string{
		"api_key":   p.cfg.APIKey,
		"timestamp": ts,
		"signature": hex.EncodeToString(sum[:]),
	} {
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(p.cfg.UploadURL, "/") + "/" + p.cfg.CloudName + "/video/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var res struct {
		SecureURL string `json:"secure_url"`
	}
	if err := p.do(req, &res); err != nil {
		return "", err
	}
	if res.SecureURL == "" {
		return "", fmt.Errorf("no secure_url in upload response")
	}
	return res.SecureURL, nil
}

type transcript struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe submits audioURL and polls the job until it completes, fails
// or the attempt budget runs out.
func (p *Pipeline) Transcribe(ctx context.Context, audioURL string) (string, error) {
	req, err := p.jsonRequest(ctx, http.MethodPost, p.cfg.TranscribeURL, map[string]string{"audio_url": audioURL})
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", p.cfg.TranscribeKey)
	var job transcript
	if err := p.do(req, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("no job id in transcription response")
	}

	pollURL := strings.TrimRight(p.cfg.TranscribeURL, "/") + "/" + job.ID
	for attempt := 1; attempt <= p.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", p.cfg.TranscribeKey)
		var st transcript
		if err := p.do(req, &st); err != nil {
			return "", err
		}
		switch st.Status {
		case "completed":
			return st.Text, nil
		case "error":
			return "", fmt.Errorf("%w: %s", ErrTranscriptionFailed, st.Error)
		}
		p.logger.Debug().Str("job", job.ID).Str("status", st.Status).Int("attempt", attempt).Msg("transcription pending")
	}
	return "", fmt.Errorf("%w: no result after %d polls", ErrTranscriptionFailed, p.cfg.PollAttempts)
}

// Summarize returns generated minutes for text. Without a summarizer
// configured the summary stays empty.
func (p *Pipeline) Summarize(ctx context.Context, text string) (string, error) {
	if p.cfg.SummarizeURL == "" {
		return "", nil
	}
	req, err := p.jsonRequest(ctx, http.MethodPost, p.cfg.SummarizeURL, map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	if p.cfg.SummarizeKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.SummarizeKey)
	}
	var res struct {
		Summary string `json:"summary"`
	}
	if err := p.do(req, &res); err != nil {
		return "", err
	}
	return res.Summary, nil
}

func (p *Pipeline) Save(ctx context.Context, m Meeting) error {
	req, err := p.jsonRequest(ctx, http.MethodPost, strings.TrimRight(p.cfg.BackendURL, "/")+"/api/v1/meeting", m)
	if err != nil {
		return err
	}
	return p.do(req, nil)
}

func (p *Pipeline) jsonRequest(ctx context.Context, method, url string, v any) (*http.Request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and decodes a JSON response into out when out is not nil.
func (p *Pipeline) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

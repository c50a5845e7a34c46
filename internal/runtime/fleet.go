package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/logx"
)

// FleetConfig configures the fleet provisioning API client.
type FleetConfig struct {
	BaseURL      string
	Token        string
	Image        string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

// FleetBackend hosts agents in containers provisioned by a remote fleet API.
// Provisioning is asynchronous: Activate returns once the fleet accepted the
// request, and readiness is observed by polling container status.
type FleetBackend struct {
	cfg    FleetConfig
	client *http.Client
	events chan Event

	mu      sync.Mutex
	cancels map[agent.ID]context.CancelFunc
}

// NewFleetBackend returns a backend talking to the fleet API at cfg.BaseURL.
func NewFleetBackend(cfg FleetConfig) *FleetBackend {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &FleetBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		events:  make(chan Event, 64),
		cancels: make(map[agent.ID]context.CancelFunc),
	}
}

type fleetContainer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
}

func (b *FleetBackend) Activate(ctx context.Context, id agent.ID, opts ActivateOptions) error {
	image := opts.Image
	if image == "" {
		image = b.cfg.Image
	}
	env := map[string]string{
		"TYMBAL_API_URL": b.cfg.BaseURL,
		"TYMBAL_CHANNEL": id.Channel,
	}
	for k, v := range opts.Env {
		env[k] = v
	}
	body := map[string]any{
		"agentId": id.String(),
		"image":   image,
		"env":     env,
	}
	var resp struct {
		Container fleetContainer `json:"container"`
	}
	if err := b.call(ctx, http.MethodPost, "/v1/containers", body, &resp); err != nil {
		return activationErr(err)
	}

	b.mu.Lock()
	if cancel, ok := b.cancels[id]; ok {
		cancel()
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	b.cancels[id] = cancel
	b.mu.Unlock()
	go b.poll(pollCtx, id)

	b.events <- Event{Kind: EventStatus, Agent: id, Container: &agent.ContainerInfo{
		ID: resp.Container.ID, Name: resp.Container.Name, Image: resp.Container.Image, State: resp.Container.Status,
	}}
	return nil
}

func (b *FleetBackend) Send(ctx context.Context, id agent.ID, msg Message) error {
	path := "/v1/containers/" + url.PathEscape(id.String()) + "/messages"
	err := b.call(ctx, http.MethodPost, path, msg, nil)
	var se *fleetStatusError
	if errors.As(err, &se) && (se.code == http.StatusConflict || se.code == http.StatusNotFound) {
		return fmt.Errorf("%w: %s", ErrNotActive, se.body)
	}
	return err
}

func (b *FleetBackend) Suspend(ctx context.Context, id agent.ID) error {
	b.mu.Lock()
	if cancel, ok := b.cancels[id]; ok {
		cancel()
		delete(b.cancels, id)
	}
	b.mu.Unlock()

	path := "/v1/containers/" + url.PathEscape(id.String())
	err := b.call(ctx, http.MethodDelete, path, nil, nil)
	var se *fleetStatusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		// Already gone; suspend is idempotent.
		return nil
	}
	return err
}

func (b *FleetBackend) Events() <-chan Event { return b.events }

func (b *FleetBackend) poll(ctx context.Context, id agent.ID) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var fc fleetContainer
		path := "/v1/containers/" + url.PathEscape(id.String())
		if err := b.call(ctx, http.MethodGet, path, nil, &fc); err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Log.Warn().Str("agent", id.String()).Err(err).Msg("fleet status poll failed")
			continue
		}
		if fc.Status == last {
			continue
		}
		last = fc.Status
		b.events <- Event{Kind: EventStatus, Agent: id, Container: &agent.ContainerInfo{
			ID: fc.ID, Name: fc.Name, Image: fc.Image, State: fc.Status,
		}}
	}
}

type fleetStatusError struct {
	code int
	body string
}

func (e *fleetStatusError) Error() string {
	return fmt.Sprintf("fleet: status %d: %s", e.code, e.body)
}

func (b *FleetBackend) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &fleetStatusError{code: resp.StatusCode, body: string(bytes.TrimSpace(buf))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// activationErr classifies a fleet call failure. Hard API rejections are
// permanent; timeouts and server-side failures may be retried.
func activationErr(err error) error {
	if err == nil {
		return nil
	}
	var se *fleetStatusError
	if errors.As(err, &se) {
		if se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests {
			return &ActivationError{Permanent: true, Err: err}
		}
		return &ActivationError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ActivationError{Err: err}
	}
	return &ActivationError{Err: err}
}

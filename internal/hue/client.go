package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/panelhub/internal/apperr"
)

// API is the bridge surface used by the snapshot builder and commands.
type API interface {
	Groups(ctx context.Context) ([]huego.Group, error)
	Lights(ctx context.Context) ([]huego.Light, error)
	Scenes(ctx context.Context) ([]huego.Scene, error)
	Scene(ctx context.Context, id string) (*huego.Scene, error)

	// SetGroupState sends patch as-is to groups/{id}/action.
	SetGroupState(ctx context.Context, id int, patch map[string]any) error
}

// Client talks to a Hue bridge over the v1 API.
type Client struct {
	address    string
	token      string
	bridge     *huego.Bridge
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a new Hue client. rateLimitRPS bounds group writes; zero
// disables throttling.
func NewClient(address, token string, timeout time.Duration, rateLimitRPS float64) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rateLimitRPS > 0 {
		burst := int(rateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), burst)
	}

	// Hue bridges serve self-signed certificates
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		address: address,
		token:   token,
		bridge:  huego.New(address, token),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		timeout: timeout,
		limiter: limiter,
	}
}

// Close closes idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrBackendUnavailable, err)
}

func (c *Client) Groups(ctx context.Context) ([]huego.Group, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	groups, err := c.bridge.GetGroupsContext(ctx)
	if err != nil {
		return nil, unavailable("fetch groups", err)
	}
	return groups, nil
}

func (c *Client) Lights(ctx context.Context) ([]huego.Light, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	lights, err := c.bridge.GetLightsContext(ctx)
	if err != nil {
		return nil, unavailable("fetch lights", err)
	}
	return lights, nil
}

func (c *Client) Scenes(ctx context.Context) ([]huego.Scene, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	scenes, err := c.bridge.GetScenesContext(ctx)
	if err != nil {
		return nil, unavailable("fetch scenes", err)
	}
	return scenes, nil
}

func (c *Client) Scene(ctx context.Context, id string) (*huego.Scene, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	scene, err := c.bridge.GetSceneContext(ctx, id)
	if err != nil {
		return nil, unavailable("fetch scene "+id, err)
	}
	return scene, nil
}

// v1 PUT responses are a list of {"success": ...} or {"error": ...} objects.
type v1Result struct {
	Error *struct {
		Type        int    `json:"type"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

func (c *Client) SetGroupState(ctx context.Context, id int, patch map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return unavailable("rate limit", err)
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode group action: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/%s/groups/%s/action", c.address, c.token, strconv.Itoa(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build group action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable("set group action", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return unavailable("read group action response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return unavailable("set group action", fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	// The bridge confirms every field it applied; anything else leaves the
	// outcome unknown.
	var results []v1Result
	if err := json.Unmarshal(raw, &results); err != nil {
		log.Warn().Err(err).Int("group", id).Str("body", string(raw)).Msg("Undecodable group action response")
		return unavailable("decode group action response", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return unavailable("set group action", fmt.Errorf("%s: %s", r.Error.Address, r.Error.Description))
		}
	}

	log.Debug().Int("group", id).RawJSON("action", body).Msg("Group action sent")
	return nil
}

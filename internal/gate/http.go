// Package gate implements the session validity gate against the lessons
// service, the single external collaborator of the relay.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/metrics"
)

// HTTPGate resolves room ids to lessons over the lessons service REST API.
type HTTPGate struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGate(baseURL string, timeout time.Duration) *HTTPGate {
	return &HTTPGate{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// lesson is the slice of the lessons service response the gate cares
// about: the id and the owning teacher.
type lesson struct {
	ID      string `json:"id"`
	Teacher struct {
		ID string `json:"id"`
	} `json:"teacher"`
}

func (g *HTTPGate) fetch(ctx context.Context, id domain.RoomID) (*lesson, bool, error) {
	start := time.Now()
	defer func() { metrics.GateLatency.Observe(time.Since(start).Seconds()) }()

	url := fmt.Sprintf("%s/lessons/%s", g.baseURL, string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("lessons service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var l lesson
		if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
			return nil, false, fmt.Errorf("lessons service response: %w", err)
		}
		return &l, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		log.Warn().Str("module", "gate").Int("status", resp.StatusCode).Str("room", string(id)).Msg("unexpected lessons service status")
		return nil, false, fmt.Errorf("lessons service status %d", resp.StatusCode)
	}
}

func (g *HTTPGate) ValidateRoom(ctx context.Context, id domain.RoomID) (bool, error) {
	_, ok, err := g.fetch(ctx, id)
	return ok, err
}

func (g *HTTPGate) SessionOwner(ctx context.Context, id domain.RoomID) (domain.ParticipantID, error) {
	l, ok, err := g.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return domain.ParticipantID(l.Teacher.ID), nil
}

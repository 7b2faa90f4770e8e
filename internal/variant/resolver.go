// Package variant resolves which question set a participant is assigned to
// by asking the external assignment service.
package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSet is the fail-closed fallback when the assignment service is
// unreachable or returns something unusable.
const DefaultSet = "1"

// assignmentResponse is the wire shape of the assignment service: the full
// list of named variations plus the one assigned to this participant. The
// set label is the assigned variation's 1-based ordinal.
type assignmentResponse struct {
	Variations []struct {
		Name string `json:"name"`
	} `json:"variations"`
	Assigned string `json:"assigned"`
}

// Resolver is a pure lookup client. It holds no per-participant cache: each
// session re-resolves, so an assignment change on the service side takes
// effect on the next start.
type Resolver struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewResolver(baseURL string, timeout time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "variant_resolver").Logger(),
	}
}

// Resolve returns the participant's set label. It never fails: any problem
// reaching or parsing the assignment falls back to DefaultSet with
// degraded=true, and the fallback is logged as degraded rather than treated
// as a normal assignment.
func (r *Resolver) Resolve(ctx context.Context, participantID string) (string, bool) {
	set, err := r.lookup(ctx, participantID)
	if err != nil {
		r.log.Warn().Err(err).Str("participant", participantID).
			Str("fallback", DefaultSet).Msg("assignment service degraded, using default set")
		return DefaultSet, true
	}
	return set, false
}

func (r *Resolver) lookup(ctx context.Context, participantID string) (string, error) {
	if r.baseURL == "" {
		return "", fmt.Errorf("assignment service not configured")
	}

	url := r.baseURL + "/participants/" + participantID + "/variant"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assignment service returned %d", resp.StatusCode)
	}

	var body assignmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode assignment: %w", err)
	}
	if len(body.Variations) == 0 {
		return "", fmt.Errorf("assignment service returned no variations")
	}

	for i, v := range body.Variations {
		if v.Name == body.Assigned {
			return strconv.Itoa(i + 1), nil
		}
	}
	return "", fmt.Errorf("assigned variation %q not in variation list", body.Assigned)
}

// Static is a fixed-set resolver for demos and tests.
type Static struct {
	Set string
}

func (s Static) Resolve(context.Context, string) (string, bool) {
	if s.Set == "" {
		return DefaultSet, false
	}
	return s.Set, false
}

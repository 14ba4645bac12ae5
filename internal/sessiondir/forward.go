package sessiondir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cortexdata/cortex/internal/domain"
)

// Forwarder sends a session execution request to the node that owns
// the session, per the Directory, and decodes its ResultEnvelope.
// Used when a request for an existing session arrives at a node other
// than the one running that session's sandbox.
type Forwarder struct {
	Directory *Directory
	Client    *http.Client
}

// NewForwarder builds a Forwarder over dir, using http.DefaultClient
// unless an override is supplied.
func NewForwarder(dir *Directory, client *http.Client) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{Directory: dir, Client: client}
}

type forwardRequest struct {
	Code       string `json:"code"`
	DataPath   string `json:"data_path,omitempty"`
	ReloadData bool   `json:"reload_data"`
}

// Forward looks up sessionID's owning node and POSTs the execution
// request to its internal forwarding endpoint.
func (f *Forwarder) Forward(ctx context.Context, sessionID string, req domain.ExecutionRequest) (domain.ResultEnvelope, error) {
	owner, err := f.Directory.Lookup(ctx, sessionID)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}

	dataPath := ""
	if req.Data != nil {
		dataPath = req.Data.URI
	}
	body, err := json.Marshal(forwardRequest{Code: req.Code, DataPath: dataPath, ReloadData: req.ReloadData})
	if err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("sessiondir: encode forward request: %w", err)
	}

	url := fmt.Sprintf("http://%s/internal/sessions/%s/execute", owner, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("sessiondir: build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return domain.ResultEnvelope{}, domain.BackendFailuref("forwarding to session owner %s: %v", owner, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ResultEnvelope{}, domain.BackendFailuref("session owner %s returned HTTP %d", owner, resp.StatusCode)
	}

	var envelope domain.ResultEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("sessiondir: decode forwarded response: %w", err)
	}
	return envelope, nil
}

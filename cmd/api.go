package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/desertthunder/collectx/internal/services"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/urfave/cli/v3"
)

// authorizedCall sends one request through the credential gate. A 401 is retried once after a refresh.
func (r *Runner) authorizedCall(ctx context.Context, method, path string, body []byte) (*services.APIResponse, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", shared.ErrMissingArgument)
	}
	gate, err := r.credentials(ctx)
	if err != nil {
		return nil, err
	}

	var resp *services.APIResponse
	err = gate.Do(ctx, func(ctx context.Context, token string) error {
		req := services.Request{Method: method, Path: path, Token: token}
		if body != nil {
			req.Body = body
		}
		var err error
		resp, err = r.api.Do(ctx, req)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return shared.ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		return nil, fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}
	return resp, nil
}

func (r *Runner) writeResponse(resp *services.APIResponse, pretty bool) error {
	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, pretty)
	}
	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}

// APIGet makes an authorized GET request to the backend
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	r.logger.Info("GET request", "path", path)

	resp, err := r.authorizedCall(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return r.writeResponse(resp, !cmd.Bool("json"))
}

// APIPost makes an authorized POST request to the backend
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	data := cmd.String("data")

	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("%w: data is not valid JSON", shared.ErrInvalidInput)
	}

	r.logger.Info("POST request", "path", path)

	resp, err := r.authorizedCall(ctx, http.MethodPost, path, []byte(data))
	if err != nil {
		return err
	}
	return r.writeResponse(resp, true)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/san-kum/drowsiness-cv/server/handlers"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/san-kum/drowsiness-cv/server/processor"
)

type stdinRequest struct {
	Image string `json:"image"`
}

// runOnce reads a single {"image": "<base64>"} object, classifies it and
// writes exactly one JSON object: the result or an error body.
func runOnce(ctx context.Context, in io.Reader, out io.Writer, detector processor.Detector, artifacts *ml.Artifacts) error {
	encoder := json.NewEncoder(out)

	fail := func(err error) error {
		_, apiErr := handlers.ErrorFor(err)
		if encErr := encoder.Encode(models.ErrorResponse{Error: apiErr}); encErr != nil {
			return fmt.Errorf("failed to write response: %w", encErr)
		}
		return err
	}

	var request stdinRequest
	if err := json.NewDecoder(in).Decode(&request); err != nil {
		return fail(fmt.Errorf("%w: %v", processor.ErrInvalidImage, err))
	}

	imageData, err := processor.DecodeImage(request.Image)
	if err != nil {
		return fail(err)
	}

	result, err := processor.Analyze(ctx, detector, artifacts, nil, imageData)
	if err != nil {
		return fail(err)
	}

	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

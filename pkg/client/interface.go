package client

import (
	"context"
	"errors"

	"github.com/menta2k/vision-qa/pkg/types"
)

// ErrEmptyResponse is returned when the server answers with no text
var ErrEmptyResponse = errors.New("empty response from model")

// VisionClient is implemented by every model server backend
type VisionClient interface {
	Name() string
	Ask(ctx context.Context, req *types.Request) (*types.Reply, error)
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
}

// Package pipeline composes the blob store and the remote inference
// clients into the endpoint-level workflows: upload, analyze, swap.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/hairstyle-api/internal/blobid"
	"github.com/example/hairstyle-api/internal/blobstore"
	"github.com/example/hairstyle-api/internal/inference"
	"github.com/example/hairstyle-api/internal/logging"
)

// ErrEmptyPayload reports an upload without image bytes.
var ErrEmptyPayload = errors.New("empty image payload")

// BlobStore defines the persistence operations the workflows need.
type BlobStore interface {
	Put(ctx context.Context, payload []byte, filename, contentType, description string) (string, error)
	Get(ctx context.Context, id string) (*blobstore.StoredBlob, error)
}

// Ops names the remote operations each workflow invokes.
type Ops struct {
	// Analysis operations run in order against an uploaded image; each
	// contributes attributes to the analysis response.
	Analysis []string
	// Align preprocesses one image for the swap workflow.
	Align string
	// Blend combines two aligned images into the synthesized result.
	Blend string
	// BlendMode is passed through to the blend operation.
	BlendMode string
}

// DefaultOps returns the operation names the hosted models expose.
func DefaultOps() Ops {
	return Ops{
		Analysis:  []string{"hair_type", "face_shape", "gender"},
		Align:     "align_face",
		Blend:     "blend_hair",
		BlendMode: "realistic",
	}
}

// Pipeline holds the request workflows and their collaborators. It keeps
// no per-request state; one instance serves all requests.
type Pipeline struct {
	store     BlobStore
	analysis  inference.Client
	synthesis inference.Client
	ops       Ops
	logger    *zap.Logger
}

// New constructs the pipeline with explicitly injected collaborators.
func New(store BlobStore, analysis, synthesis inference.Client, ops Ops, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		analysis:  analysis,
		synthesis: synthesis,
		ops:       ops,
		logger:    logger.Named("pipeline"),
	}
}

// UploadReceipt identifies a freshly stored blob.
type UploadReceipt struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// Upload persists the payload and returns its identifier.
func (p *Pipeline) Upload(ctx context.Context, payload []byte, filename, contentType, description string) (*UploadReceipt, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(p.logger, "pipeline.upload", requestID)

	id, err := p.store.Put(ctx, payload, filename, contentType, description)
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.upload", requestID, err)
		opLogger.Error("failed to store upload", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Info("blob stored", zap.String("blob_id", id), zap.Int("size", len(payload)))
	return &UploadReceipt{ID: id, Filename: filename}, nil
}

// Fetch returns the stored blob for the echo endpoint.
func (p *Pipeline) Fetch(ctx context.Context, id string) (*blobstore.StoredBlob, error) {
	if _, err := blobid.Parse(id); err != nil {
		return nil, err
	}
	return p.store.Get(ctx, id)
}

// Analysis carries the attributes the remote models derived from a blob.
type Analysis struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

// Analyze runs every configured analysis operation against the stored
// blob and assembles their attributes. Any failing operation aborts the
// whole request; no partial attribute set is returned.
func (p *Pipeline) Analyze(ctx context.Context, id string) (*Analysis, error) {
	if _, err := blobid.Parse(id); err != nil {
		return nil, err
	}

	blob, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	stage, err := inference.NewStage(blob.Payload)
	if err != nil {
		return nil, logging.NewOperationError("pipeline.analyze", id, err)
	}
	defer stage.Close()

	opLogger := logging.WithBlob(logging.WithOperation(p.logger, "pipeline.analyze", ""), id)

	attrs := make(map[string]string, len(p.ops.Analysis))
	for _, op := range p.ops.Analysis {
		res, err := p.analysis.Predict(ctx, op, inference.Params{"image": stage})
		if err != nil {
			opLogger.Error("analysis operation failed", zap.Error(err), zap.String("remote_op", op))
			return nil, err
		}
		res.Discard()
		for name, value := range res.Attributes {
			// Single-label replies are keyed by the operation that produced them.
			if name == "label" {
				name = op
			}
			attrs[name] = value
		}
	}

	return &Analysis{ID: id, Attributes: attrs}, nil
}

// SwapResult carries the synthesized image and any accompanying message.
type SwapResult struct {
	ResultImage string `json:"result_image_base64"`
	Message     string `json:"message"`
}

// Swap aligns the source and reference blobs independently, blends the
// two aligned intermediates, and returns the synthesized image encoded
// for transport. Any failing stage aborts the whole request; nothing is
// persisted along the way.
func (p *Pipeline) Swap(ctx context.Context, sourceID, refID string) (*SwapResult, error) {
	if _, err := blobid.Parse(sourceID); err != nil {
		return nil, err
	}
	if _, err := blobid.Parse(refID); err != nil {
		return nil, err
	}

	source, err := p.store.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	ref, err := p.store.Get(ctx, refID)
	if err != nil {
		return nil, err
	}

	opLogger := logging.WithOperation(p.logger, "pipeline.swap", "")

	alignedSource, err := p.align(ctx, source.Payload)
	if err != nil {
		opLogger.Error("source alignment failed", zap.Error(err), zap.String("blob_id", sourceID))
		return nil, err
	}
	alignedRef, err := p.align(ctx, ref.Payload)
	if err != nil {
		opLogger.Error("reference alignment failed", zap.Error(err), zap.String("blob_id", refID))
		return nil, err
	}

	res, err := p.synthesis.Predict(ctx, p.ops.Blend, inference.Params{
		"source":    alignedSource,
		"reference": alignedRef,
		"mode":      p.ops.BlendMode,
	})
	if err != nil {
		opLogger.Error("blend failed", zap.Error(err))
		return nil, err
	}
	defer res.Discard()

	out := &SwapResult{Message: res.Attributes["message"]}
	if path, ok := res.Files["result_image"]; ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, logging.NewOperationError("pipeline.swap", "", err)
		}
		out.ResultImage = base64.StdEncoding.EncodeToString(raw)
	} else if v, ok := res.Attributes["result_image"]; ok {
		out.ResultImage = v
	}
	if out.ResultImage == "" {
		return nil, fmt.Errorf("%w: %s returned no result image", inference.ErrInference, p.ops.Blend)
	}
	return out, nil
}

// align runs the preprocessing operation on one payload and returns the
// opaque intermediate the blend operation consumes.
func (p *Pipeline) align(ctx context.Context, payload []byte) (string, error) {
	stage, err := inference.NewStage(payload)
	if err != nil {
		return "", logging.NewOperationError("pipeline.align", "", err)
	}
	defer stage.Close()

	res, err := p.synthesis.Predict(ctx, p.ops.Align, inference.Params{"image": stage})
	if err != nil {
		return "", err
	}
	defer res.Discard()

	if v, ok := res.Attributes["aligned"]; ok {
		return v, nil
	}
	if v, ok := res.Attributes["result_image"]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s returned no aligned image", inference.ErrInference, p.ops.Align)
}

// Package inference bridges stored image bytes to remotely hosted
// prediction operations invoked by name.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/hairstyle-api/internal/logging"
)

// ErrInference reports a failed remote prediction call: network error,
// remote-side error, or a response the client cannot decode. Calls are
// never retried here.
var ErrInference = errors.New("inference failed")

// serviceName is the gRPC service every remote operation hangs off.
const serviceName = "hairlab.Predictor"

// Client invokes named remote prediction operations.
type Client interface {
	Predict(ctx context.Context, operation string, params Params) (*Result, error)
}

// invoker is the slice of grpc.ClientConn the predictor needs.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}

// Dial returns a ready-to-use client for one remote inference backend.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("inference.dial", "", err)
		logger.Error("failed to dial inference backend", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &predictor{conn: conn, logger: logger.Named("inference")}, conn, nil
}

type predictor struct {
	conn   invoker
	logger *zap.Logger
}

// Predict invokes operation with params and normalizes the reply. No
// deadline is imposed beyond what ctx carries.
func (p *predictor) Predict(ctx context.Context, operation string, params Params) (*Result, error) {
	req, err := params.toStruct()
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s request: %v", ErrInference, operation, err)
	}

	reply := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, "/"+serviceName+"/"+operation, req, reply); err != nil {
		wrapped := logging.NewOperationError("inference."+operation, "", fmt.Errorf("%w: %v", ErrInference, err))
		p.logger.Error("remote inference call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	res, err := normalize(reply)
	if err != nil {
		wrapped := logging.NewOperationError("inference."+operation, "", fmt.Errorf("%w: %v", ErrInference, err))
		p.logger.Error("malformed inference response", zap.Error(wrapped))
		return nil, wrapped
	}
	return res, nil
}

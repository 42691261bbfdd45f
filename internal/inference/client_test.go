package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubInvoker struct {
	method string
	args   *structpb.Struct
	reply  *structpb.Struct
	err    error
	calls  int
}

func (s *stubInvoker) Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error {
	s.calls++
	s.method = method
	s.args = args.(*structpb.Struct)
	if s.err != nil {
		return s.err
	}
	if s.reply != nil {
		proto.Merge(reply.(proto.Message), s.reply)
	}
	return nil
}

func newTestPredictor(reply map[string]interface{}, err error) (*predictor, *stubInvoker) {
	stub := &stubInvoker{err: err}
	if reply != nil {
		encoded, buildErr := structpb.NewStruct(reply)
		if buildErr != nil {
			panic(buildErr)
		}
		stub.reply = encoded
	}
	return &predictor{conn: stub, logger: zap.NewNop()}, stub
}

func TestPredictNormalizesWrappedAndRawResponses(t *testing.T) {
	raw, _ := newTestPredictor(map[string]interface{}{"hair_type": "curly"}, nil)
	wrapped, _ := newTestPredictor(map[string]interface{}{
		"data": map[string]interface{}{"hair_type": "curly"},
	}, nil)

	rawResult, err := raw.Predict(context.Background(), "hair_type", Params{})
	if err != nil {
		t.Fatalf("raw shape: %v", err)
	}
	wrappedResult, err := wrapped.Predict(context.Background(), "hair_type", Params{})
	if err != nil {
		t.Fatalf("wrapped shape: %v", err)
	}

	if rawResult.Attributes["hair_type"] != "curly" || wrappedResult.Attributes["hair_type"] != "curly" {
		t.Fatalf("expected identical normalized attributes, got %v and %v",
			rawResult.Attributes, wrappedResult.Attributes)
	}
}

func TestPredictAddressesNamedOperation(t *testing.T) {
	p, stub := newTestPredictor(map[string]interface{}{"label": "oval"}, nil)

	if _, err := p.Predict(context.Background(), "face_shape", Params{}); err != nil {
		t.Fatal(err)
	}
	if stub.method != "/hairlab.Predictor/face_shape" {
		t.Fatalf("unexpected method %q", stub.method)
	}
}

func TestPredictEncodesStagedParams(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	stage, err := NewStage(payload)
	if err != nil {
		t.Fatal(err)
	}
	defer stage.Close()

	p, stub := newTestPredictor(map[string]interface{}{"aligned": "token-1"}, nil)
	if _, err := p.Predict(context.Background(), "align_face", Params{"image": stage, "mode": "realistic"}); err != nil {
		t.Fatal(err)
	}

	fields := stub.args.GetFields()
	if got := fields["image"].GetStringValue(); got != base64.StdEncoding.EncodeToString(payload) {
		t.Fatalf("staged payload not encoded into request, got %q", got)
	}
	if got := fields["mode"].GetStringValue(); got != "realistic" {
		t.Fatalf("plain param lost, got %q", got)
	}
}

func TestPredictStagesBinaryAttributes(t *testing.T) {
	payload := []byte("synthesized-image-bytes")
	p, _ := newTestPredictor(map[string]interface{}{
		"result_image": map[string]interface{}{"b64": base64.StdEncoding.EncodeToString(payload)},
		"message":      "done",
	}, nil)

	res, err := p.Predict(context.Background(), "blend_hair", Params{})
	if err != nil {
		t.Fatal(err)
	}
	defer res.Discard()

	path, ok := res.Files["result_image"]
	if !ok {
		t.Fatalf("expected staged file for result_image, files: %v", res.Files)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("staged file content mismatch: %q", got)
	}
	if res.Attributes["message"] != "done" {
		t.Fatalf("expected message attribute, got %v", res.Attributes)
	}

	res.Discard()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged file removed after Discard, stat err: %v", err)
	}
}

func TestPredictWrapsTransportFailure(t *testing.T) {
	p, _ := newTestPredictor(nil, errors.New("connection refused"))

	_, err := p.Predict(context.Background(), "hair_type", Params{})
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestPredictRejectsMalformedBinaryAttribute(t *testing.T) {
	p, _ := newTestPredictor(map[string]interface{}{
		"result_image": map[string]interface{}{"b64": "%%%not-base64%%%"},
	}, nil)

	_, err := p.Predict(context.Background(), "blend_hair", Params{})
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestStageCleansUpOnClose(t *testing.T) {
	stage, err := NewStage([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stage.Path()); err != nil {
		t.Fatalf("staged file missing: %v", err)
	}

	if err := stage.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stage.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged file removed, stat err: %v", err)
	}
	// Close is idempotent.
	if err := stage.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
}

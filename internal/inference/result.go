package inference

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// Params carries the named inputs of a remote operation. Values may be
// plain JSON-compatible types or a *Stage, which is read back and sent as
// a base64 field.
type Params map[string]interface{}

func (p Params) toStruct() (*structpb.Struct, error) {
	fields := make(map[string]interface{}, len(p))
	for name, value := range p {
		stage, ok := value.(*Stage)
		if !ok {
			fields[name] = value
			continue
		}
		raw, err := stage.Bytes()
		if err != nil {
			return nil, fmt.Errorf("read staged payload %q: %w", name, err)
		}
		fields[name] = base64.StdEncoding.EncodeToString(raw)
	}
	return structpb.NewStruct(fields)
}

// Result holds the normalized attributes of one remote operation.
// Binary outputs are materialized into staged local files and exposed
// through Files; the caller reads them back and must Discard the result.
type Result struct {
	Attributes map[string]string
	Files      map[string]string
}

// Discard removes any files the result staged locally. Safe to call when
// no files were staged.
func (r *Result) Discard() {
	for _, path := range r.Files {
		_ = os.Remove(path)
	}
	r.Files = nil
}

// normalize flattens the two response shapes the remote services produce:
// a raw attribute map, or the same map nested under a single "data" key.
// Values shaped {"b64": "..."} are decoded and staged to a local file.
func normalize(reply *structpb.Struct) (*Result, error) {
	fields := reply.GetFields()
	if len(fields) == 1 {
		if wrapper, ok := fields["data"]; ok {
			if inner := wrapper.GetStructValue(); inner != nil {
				fields = inner.GetFields()
			}
		}
	}

	res := &Result{
		Attributes: make(map[string]string, len(fields)),
		Files:      map[string]string{},
	}
	for name, value := range fields {
		switch kind := value.GetKind().(type) {
		case *structpb.Value_StringValue:
			res.Attributes[name] = kind.StringValue
		case *structpb.Value_NumberValue:
			res.Attributes[name] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			res.Attributes[name] = strconv.FormatBool(kind.BoolValue)
		case *structpb.Value_StructValue:
			encoded, ok := kind.StructValue.GetFields()["b64"]
			if !ok {
				res.Discard()
				return nil, fmt.Errorf("attribute %q has unsupported shape", name)
			}
			raw, err := base64.StdEncoding.DecodeString(encoded.GetStringValue())
			if err != nil {
				res.Discard()
				return nil, fmt.Errorf("attribute %q carries malformed base64: %w", name, err)
			}
			stage, err := NewStage(raw)
			if err != nil {
				res.Discard()
				return nil, fmt.Errorf("stage attribute %q: %w", name, err)
			}
			res.Files[name] = stage.Path()
		case *structpb.Value_NullValue:
			// absent attribute, skip
		default:
			res.Discard()
			return nil, fmt.Errorf("attribute %q has unsupported shape", name)
		}
	}
	return res, nil
}

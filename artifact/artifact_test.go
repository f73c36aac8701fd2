package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"mailclass/corpus/corpustest"
	"mailclass/ml"
)

func fittedArtifact(t *testing.T) *Artifact {
	t.Helper()
	ds := corpustest.Dataset(t)
	p := ml.NewPipeline(ml.PipelineConfig{
		MaxFeatures: 500,
		NGram:       ml.NGramRange{Min: 1, Max: 2},
		StopWords:   true,
		C:           50,
		MaxIter:     200,
	})
	if err := p.Fit(ds.Texts(), ds.Labels()); err != nil {
		t.Fatalf("fit: %v", err)
	}
	return &Artifact{
		Pipeline: p,
		Meta: Meta{
			RunID:        "0190a8f2-7c1e-7000-8000-000000000001",
			TrainedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Combo:        "mf=500 ng=(1,2) C=50",
			CVMean:       0.91,
			CVStd:        0.03,
			TestAccuracy: 0.9,
			Samples:      ds.Len(),
		},
	}
}

func encode(t *testing.T, a *Artifact) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTripPreservesPredictions(t *testing.T) {
	a := fittedArtifact(t)
	got, err := Decode(bytes.NewReader(encode(t, a)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !reflect.DeepEqual(got.Pipeline.Labels, a.Pipeline.Labels) {
		t.Fatalf("label ordering changed: %v vs %v", got.Pipeline.Labels, a.Pipeline.Labels)
	}
	if !got.Meta.TrainedAt.Equal(a.Meta.TrainedAt) {
		t.Fatalf("trained_at changed: %v", got.Meta.TrainedAt)
	}
	got.Meta.TrainedAt = a.Meta.TrainedAt
	if got.Meta != a.Meta {
		t.Fatalf("meta changed: %+v vs %+v", got.Meta, a.Meta)
	}

	for _, text := range corpustest.Dataset(t).Texts() {
		want, _ := a.Pipeline.PredictProba(text)
		have, ok := got.Pipeline.PredictProba(text)
		if !ok {
			t.Fatal("restored logistic pipeline lost probability support")
		}
		if !reflect.DeepEqual(want, have) {
			t.Fatalf("probabilities differ for %q: %v vs %v", text, want, have)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models", "model.bin")
	a := fittedArtifact(t)

	if err := Save(path, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact, found %d entries", len(entries))
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	text := "URGENT: production database is down"
	if got.Pipeline.Predict(text) != a.Pipeline.Predict(text) {
		t.Fatal("restored pipeline predicts differently")
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.bin")
	_, err := Load(path)

	var ae *ArtifactError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *ArtifactError, got %T", err)
	}
	if ae.Op != "open" || ae.Path != path {
		t.Fatalf("unexpected error fields: %+v", ae)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestDecodeRejectsDamagedInput(t *testing.T) {
	valid := encode(t, fittedArtifact(t))

	flipped := append([]byte(nil), valid...)
	flipped[len(flipped)/2] ^= 0xFF

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "PK\x03\x04")

	msg, err := marshal(fittedArtifact(t))
	if err != nil {
		t.Fatal(err)
	}
	nanIntercept := frame(patchDoubles(t, msg, fModel, fIntercept, func(v []float64) { v[0] = math.NaN() }))
	infCoef := frame(patchDoubles(t, msg, fModel, fCoef, func(v []float64) { v[len(v)-1] = math.Inf(-1) }))
	infIDF := frame(patchDoubles(t, msg, fVectorizer, fIDF, func(v []float64) { v[0] = math.Inf(1) }))
	zeroIDF := frame(patchDoubles(t, msg, fVectorizer, fIDF, func(v []float64) { v[1] = 0 }))

	tests := []struct {
		name string
		data []byte
		want error // nil: any decode error
	}{
		{"empty", nil, errTruncated},
		{"truncated", valid[:3], errTruncated},
		{"bad magic", badMagic, errBadMagic},
		{"flipped byte", flipped, errChecksum},
		{"cut tail", valid[:len(valid)-10], errChecksum},
		{"nan intercept", nanIntercept, nil},
		{"infinite coefficient", infCoef, nil},
		{"infinite idf", infIDF, nil},
		{"zero idf", zeroIDF, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			var ae *ArtifactError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *ArtifactError, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.want == nil && ae.Op != "decode" {
				t.Fatalf("expected decode op, got %q", ae.Op)
			}
		})
	}
}

// frame wraps a message the way Encode does.
func frame(msg []byte) []byte {
	out := append([]byte(magic), msg...)
	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(msg))
}

// patchDoubles rewrites the packed doubles field inner of the outer
// sub-message, copying every other field unchanged.
func patchDoubles(t *testing.T, msg []byte, outer, inner protowire.Number, fn func([]float64)) []byte {
	t.Helper()
	var out []byte
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			t.Fatalf("bad tag: %v", protowire.ParseError(n))
		}
		m := protowire.ConsumeFieldValue(num, typ, msg[n:])
		if m < 0 {
			t.Fatalf("bad field %d: %v", num, protowire.ParseError(m))
		}
		chunk, value := msg[:n+m], msg[n:n+m]
		msg = msg[n+m:]

		if num != outer {
			out = append(out, chunk...)
			continue
		}
		payload, _ := protowire.ConsumeBytes(value)
		if inner != 0 {
			out = appendMessage(out, num, patchDoubles(t, payload, inner, 0, fn))
			continue
		}
		vs := make([]float64, 0, len(payload)/8)
		for len(payload) > 0 {
			bits, k := protowire.ConsumeFixed64(payload)
			if k < 0 {
				t.Fatalf("bad double: %v", protowire.ParseError(k))
			}
			vs = append(vs, math.Float64frombits(bits))
			payload = payload[k:]
		}
		fn(vs)
		out = appendDoubles(out, num, vs)
	}
	return out
}

func TestLoadCorruptFileCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, []byte("MCLA garbage that is not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var ae *ArtifactError
	if !errors.As(err, &ae) || ae.Path != path || ae.Op != "decode" {
		t.Fatalf("expected decode error for %s, got %v", path, err)
	}
}

func TestEncodeRejectsUnfitPipeline(t *testing.T) {
	unfit := &Artifact{Pipeline: ml.NewPipeline(ml.PipelineConfig{NGram: ml.NGramRange{Min: 1, Max: 1}, C: 1})}
	var buf bytes.Buffer
	if err := Encode(&buf, unfit); err == nil {
		t.Fatal("expected error for unfit pipeline")
	}
	if err := Encode(&buf, &Artifact{}); !errors.Is(err, errNoPipeline) {
		t.Fatalf("expected errNoPipeline, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("nothing must be written on failure")
	}
}

func TestDecodeRejectsInconsistentDimensions(t *testing.T) {
	msg, err := marshal(fittedArtifact(t))
	if err != nil {
		t.Fatal(err)
	}
	// A sixth label no longer matches the five-class coefficient matrix.
	msg = protowire.AppendTag(msg, fLabels, protowire.BytesType)
	msg = protowire.AppendString(msg, "newsletter")

	_, err = Decode(bytes.NewReader(frame(msg)))
	var ae *ArtifactError
	if !errors.As(err, &ae) || ae.Op != "decode" {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	msg, err := marshal(fittedArtifact(t))
	if err != nil {
		t.Fatal(err)
	}
	msg = protowire.AppendTag(msg, 99, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 7)

	if _, err := unmarshal(msg); err != nil {
		t.Fatalf("unknown field must be ignored: %v", err)
	}
}

func TestDecodeIgnoresLegacyVersionField(t *testing.T) {
	msg, err := marshal(fittedArtifact(t))
	if err != nil {
		t.Fatal(err)
	}
	// Field 1 once carried a format version; artifacts are versionless now.
	legacy := protowire.AppendTag(nil, 1, protowire.VarintType)
	legacy = protowire.AppendVarint(legacy, 2)
	legacy = append(legacy, msg...)

	if _, err := Decode(bytes.NewReader(frame(legacy))); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

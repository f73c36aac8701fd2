package artifact

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"mailclass/ml"
)

// Field numbers of the artifact message.
//
//	message Artifact {
//	  reserved 1;
//	  repeated string labels = 2;
//	  Vectorizer vectorizer = 3;
//	  Model model = 4;
//	  Meta meta = 5;
//	}
//	message Vectorizer {
//	  repeated string terms = 1; repeated double idf = 2 [packed];
//	  uint32 ngram_min = 3; uint32 ngram_max = 4;
//	  uint32 max_features = 5; bool stop_words = 6;
//	}
//	message Model {
//	  string kind = 1; double c = 2; uint32 n_features = 3;
//	  repeated double coef = 4 [packed]; repeated double intercept = 5 [packed];
//	}
//	message Meta {
//	  string run_id = 1; int64 trained_at_unix_nano = 2; string combo = 3;
//	  double cv_mean = 4; double cv_std = 5; double test_accuracy = 6; uint32 samples = 7;
//	}
const (
	fLabels     protowire.Number = 2
	fVectorizer protowire.Number = 3
	fModel      protowire.Number = 4
	fMeta       protowire.Number = 5

	fTerms       protowire.Number = 1
	fIDF         protowire.Number = 2
	fNGramMin    protowire.Number = 3
	fNGramMax    protowire.Number = 4
	fMaxFeatures protowire.Number = 5
	fStopWords   protowire.Number = 6

	fKind      protowire.Number = 1
	fC         protowire.Number = 2
	fNFeatures protowire.Number = 3
	fCoef      protowire.Number = 4
	fIntercept protowire.Number = 5

	fRunID        protowire.Number = 1
	fTrainedAt    protowire.Number = 2
	fCombo        protowire.Number = 3
	fCVMean       protowire.Number = 4
	fCVStd        protowire.Number = 5
	fTestAccuracy protowire.Number = 6
	fSamples      protowire.Number = 7
)

func marshal(a *Artifact) ([]byte, error) {
	if a == nil || a.Pipeline == nil {
		return nil, errNoPipeline
	}
	p := a.Pipeline
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var b []byte
	for _, l := range p.Labels {
		b = protowire.AppendTag(b, fLabels, protowire.BytesType)
		b = protowire.AppendString(b, l)
	}

	var v []byte
	for _, term := range p.Vectorizer.Terms() {
		v = protowire.AppendTag(v, fTerms, protowire.BytesType)
		v = protowire.AppendString(v, term)
	}
	v = appendDoubles(v, fIDF, p.Vectorizer.IDF())
	v = appendVarint(v, fNGramMin, uint64(p.Vectorizer.NGram.Min))
	v = appendVarint(v, fNGramMax, uint64(p.Vectorizer.NGram.Max))
	v = appendVarint(v, fMaxFeatures, uint64(max(p.Vectorizer.MaxFeatures, 0)))
	v = appendVarint(v, fStopWords, protowire.EncodeBool(p.Vectorizer.StopWords))
	b = appendMessage(b, fVectorizer, v)

	var m []byte
	m = protowire.AppendTag(m, fKind, protowire.BytesType)
	m = protowire.AppendString(m, string(p.Model.Kind))
	m = appendDouble(m, fC, p.Model.C)
	m = appendVarint(m, fNFeatures, uint64(p.Model.Dim()))
	m = appendDoubles(m, fCoef, p.Model.Coef())
	m = appendDoubles(m, fIntercept, p.Model.Intercept())
	b = appendMessage(b, fModel, m)

	var md []byte
	md = protowire.AppendTag(md, fRunID, protowire.BytesType)
	md = protowire.AppendString(md, a.Meta.RunID)
	if !a.Meta.TrainedAt.IsZero() {
		md = appendVarint(md, fTrainedAt, uint64(a.Meta.TrainedAt.UnixNano()))
	}
	md = protowire.AppendTag(md, fCombo, protowire.BytesType)
	md = protowire.AppendString(md, a.Meta.Combo)
	md = appendDouble(md, fCVMean, a.Meta.CVMean)
	md = appendDouble(md, fCVStd, a.Meta.CVStd)
	md = appendDouble(md, fTestAccuracy, a.Meta.TestAccuracy)
	md = appendVarint(md, fSamples, uint64(max(a.Meta.Samples, 0)))
	b = appendMessage(b, fMeta, md)

	return b, nil
}

func unmarshal(b []byte) (*Artifact, error) {
	var (
		labels    []string
		vecMsg    []byte
		modelMsg  []byte
		metaMsg   []byte
		haveVec   bool
		haveModel bool
	)
	err := walk(b, func(num protowire.Number, f field) error {
		switch num {
		case fLabels:
			return f.appendString(&labels)
		case fVectorizer:
			haveVec = true
			return f.bytes(&vecMsg)
		case fModel:
			haveModel = true
			return f.bytes(&modelMsg)
		case fMeta:
			return f.bytes(&metaMsg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveVec || !haveModel {
		return nil, errMissingPart
	}

	vec, err := unmarshalVectorizer(vecMsg)
	if err != nil {
		return nil, fmt.Errorf("vectorizer: %w", err)
	}
	model, err := unmarshalModel(modelMsg, len(labels))
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	meta, err := unmarshalMeta(metaMsg)
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}

	p := &ml.Pipeline{Vectorizer: vec, Model: model, Labels: labels}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Artifact{Pipeline: p, Meta: meta}, nil
}

func unmarshalVectorizer(b []byte) (*ml.TFIDF, error) {
	var (
		terms                          []string
		idf                            []float64
		ngramMin, ngramMax, maxFeature uint64
		stopWords                      uint64
	)
	err := walk(b, func(num protowire.Number, f field) error {
		switch num {
		case fTerms:
			return f.appendString(&terms)
		case fIDF:
			return f.doubles(&idf)
		case fNGramMin:
			return f.varint(&ngramMin)
		case fNGramMax:
			return f.varint(&ngramMax)
		case fMaxFeatures:
			return f.varint(&maxFeature)
		case fStopWords:
			return f.varint(&stopWords)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ngram := ml.NGramRange{Min: int(ngramMin), Max: int(ngramMax)}
	return ml.RestoreTFIDF(int(maxFeature), ngram, protowire.DecodeBool(stopWords), terms, idf)
}

func unmarshalModel(b []byte, classes int) (*ml.LinearModel, error) {
	var (
		kind      string
		c         float64
		nFeatures uint64
		coef      []float64
		intercept []float64
	)
	err := walk(b, func(num protowire.Number, f field) error {
		switch num {
		case fKind:
			return f.string(&kind)
		case fC:
			return f.double(&c)
		case fNFeatures:
			return f.varint(&nFeatures)
		case fCoef:
			return f.doubles(&coef)
		case fIntercept:
			return f.doubles(&intercept)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ml.RestoreLinearModel(ml.Kind(kind), c, classes, int(nFeatures), coef, intercept)
}

func unmarshalMeta(b []byte) (Meta, error) {
	var (
		meta      Meta
		trainedAt uint64
		samples   uint64
	)
	err := walk(b, func(num protowire.Number, f field) error {
		switch num {
		case fRunID:
			return f.string(&meta.RunID)
		case fTrainedAt:
			return f.varint(&trainedAt)
		case fCombo:
			return f.string(&meta.Combo)
		case fCVMean:
			return f.double(&meta.CVMean)
		case fCVStd:
			return f.double(&meta.CVStd)
		case fTestAccuracy:
			return f.double(&meta.TestAccuracy)
		case fSamples:
			return f.varint(&samples)
		}
		return nil
	})
	if err != nil {
		return Meta{}, err
	}
	if trainedAt != 0 {
		meta.TrainedAt = time.Unix(0, int64(trainedAt)).UTC()
	}
	meta.Samples = int(samples)
	return meta, nil
}

// field is one decoded wire value. Exactly one of its payloads is set,
// according to typ.
type field struct {
	typ protowire.Type
	v   uint64
	raw []byte
}

// walk calls fn for every field in b. Unknown fields are passed through and
// ignored by the callers, which keeps older readers working on newer files.
func walk(b []byte, fn func(protowire.Number, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, f); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("wire type %d, want %d", f.typ, typ)
	}
	return nil
}

func (f field) varint(dst *uint64) error {
	if err := f.expect(protowire.VarintType); err != nil {
		return err
	}
	*dst = f.v
	return nil
}

func (f field) double(dst *float64) error {
	if err := f.expect(protowire.Fixed64Type); err != nil {
		return err
	}
	*dst = math.Float64frombits(f.v)
	return nil
}

func (f field) bytes(dst *[]byte) error {
	if err := f.expect(protowire.BytesType); err != nil {
		return err
	}
	*dst = f.raw
	return nil
}

func (f field) string(dst *string) error {
	if err := f.expect(protowire.BytesType); err != nil {
		return err
	}
	*dst = string(f.raw)
	return nil
}

func (f field) appendString(dst *[]string) error {
	if err := f.expect(protowire.BytesType); err != nil {
		return err
	}
	*dst = append(*dst, string(f.raw))
	return nil
}

// doubles decodes a packed repeated double.
func (f field) doubles(dst *[]float64) error {
	if err := f.expect(protowire.BytesType); err != nil {
		return err
	}
	b := f.raw
	if len(b)%8 != 0 {
		return fmt.Errorf("packed doubles of %d bytes", len(b))
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		b = b[n:]
	}
	*dst = append(*dst, out...)
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

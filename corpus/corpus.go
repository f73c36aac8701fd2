// Package corpus loads labeled email records and splits them for training.
package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// MinTrainingSamples is the smallest corpus training proceeds with.
const MinTrainingSamples = 10

// LabeledExample is one email and its category identifier.
type LabeledExample struct {
	Text  string `json:"email"`
	Label string `json:"label"`
}

// Dataset is an ordered sequence of examples.
type Dataset struct {
	Examples []LabeledExample
	// Skipped counts malformed records dropped while loading.
	Skipped int
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Labels is the closed set of accepted identifiers. Empty accepts any.
	Labels     []string
	MinSamples int
	// Encoding of the file: "" or "utf-8", "gbk", "gb18030".
	Encoding string
}

func decoder(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return r, nil
	case "gbk":
		return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder()), nil
	case "gb18030":
		return transform.NewReader(r, simplifiedchinese.GB18030.NewDecoder()), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// Load reads a JSON-lines corpus of {"email": ..., "label": ...} records.
func Load(path string, opts LoadOptions) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &DataError{Path: path, Cause: err}
	}
	defer file.Close()

	src, err := decoder(file, opts.Encoding)
	if err != nil {
		return nil, &DataError{Path: path, Cause: err}
	}
	ds, err := Read(src, opts.Labels)
	if err != nil {
		return nil, &DataError{Path: path, Cause: err}
	}

	need := opts.MinSamples
	if need <= 0 {
		need = MinTrainingSamples
	}
	if ds.Len() < need {
		return nil, &InsufficientDataError{Have: ds.Len(), Need: need}
	}
	return ds, nil
}

// Read parses JSON-lines records from r, skipping malformed lines.
func Read(r io.Reader, labels []string) (*Dataset, error) {
	allowed := make(map[string]bool, len(labels))
	for _, l := range labels {
		allowed[l] = true
	}

	ds := &Dataset{}
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if ex, ok := parseRecord(line, allowed); ok {
				ds.Examples = append(ds.Examples, ex)
			} else if len(strings.TrimSpace(string(line))) > 0 {
				ds.Skipped++
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return ds, nil
}

func parseRecord(line []byte, allowed map[string]bool) (LabeledExample, bool) {
	var rec struct {
		Email *string `json:"email"`
		Label *string `json:"label"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return LabeledExample{}, false
	}
	if rec.Email == nil || rec.Label == nil || strings.TrimSpace(*rec.Email) == "" {
		return LabeledExample{}, false
	}
	if len(allowed) > 0 && !allowed[*rec.Label] {
		return LabeledExample{}, false
	}
	return LabeledExample{Text: *rec.Email, Label: *rec.Label}, true
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Examples) }

// Texts returns the example texts in order.
func (d *Dataset) Texts() []string {
	texts := make([]string, len(d.Examples))
	for i, ex := range d.Examples {
		texts[i] = ex.Text
	}
	return texts
}

// Labels returns the example labels in order.
func (d *Dataset) Labels() []string {
	labels := make([]string, len(d.Examples))
	for i, ex := range d.Examples {
		labels[i] = ex.Label
	}
	return labels
}

// Classes returns the distinct labels, sorted.
func (d *Dataset) Classes() []string {
	counts := d.Counts()
	classes := make([]string, 0, len(counts))
	for label := range counts {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	return classes
}

// Counts returns the number of examples per label.
func (d *Dataset) Counts() map[string]int {
	counts := make(map[string]int)
	for _, ex := range d.Examples {
		counts[ex.Label]++
	}
	return counts
}

// Subset returns a new dataset holding the examples at idx, in idx order.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{Examples: make([]LabeledExample, len(idx))}
	for i, j := range idx {
		out.Examples[i] = d.Examples[j]
	}
	return out
}

// StratifiedSplit partitions d into train and test sets, keeping the
// per-label proportions. The same seed always yields the same split.
func StratifiedSplit(d *Dataset, testRatio float64, seed int64) (train, test *Dataset, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("corpus: test ratio must be in (0,1), got %v", testRatio)
	}
	if d.Len() < 2 {
		return nil, nil, &InsufficientDataError{Have: d.Len(), Need: 2}
	}

	rnd := rand.New(rand.NewSource(seed))
	byLabel := make(map[string][]int)
	for i, ex := range d.Examples {
		byLabel[ex.Label] = append(byLabel[ex.Label], i)
	}

	var trainIdx, testIdx []int
	largest := 0
	for _, label := range d.Classes() {
		idx := byLabel[label]
		largest = max(largest, len(idx))
		rnd.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(float64(len(idx)) * testRatio))
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	if len(testIdx) == 0 {
		// Need is the label size whose rounded share first reaches one.
		need := max(2, int(math.Ceil(0.5/testRatio)))
		return nil, nil, &InsufficientDataError{Have: largest, Need: need}
	}

	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	return d.Subset(trainIdx), d.Subset(testIdx), nil
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"stallplan/internal/cache"
	"stallplan/internal/placement"
)

// Weights is a layout regressor exported as JSON, keyed like a torch
// state dict: encoder.0 and encoder.2 are the two hidden layers, class_head
// produces slots*classes logits and box_head slots*4 box values.
type Weights struct {
	Slots   int `json:"max_stalls"`
	Classes int `json:"num_categories"`

	Encoder0W [][]float64 `json:"encoder.0.weight"`
	Encoder0B []float64   `json:"encoder.0.bias"`
	Encoder2W [][]float64 `json:"encoder.2.weight"`
	Encoder2B []float64   `json:"encoder.2.bias"`
	ClassW    [][]float64 `json:"class_head.weight"`
	ClassB    []float64   `json:"class_head.bias"`
	BoxW      [][]float64 `json:"box_head.weight"`
	BoxB      []float64   `json:"box_head.bias"`
}

type dense struct {
	w *mat.Dense
	b *mat.VecDense
}

func newDense(name string, w [][]float64, b []float64, in int) (dense, error) {
	out := len(w)
	if out == 0 {
		return dense{}, fmt.Errorf("%s: empty weight matrix", name)
	}
	if len(b) != out {
		return dense{}, fmt.Errorf("%s: bias has %d entries, want %d", name, len(b), out)
	}
	flat := make([]float64, 0, out*in)
	for i, row := range w {
		if len(row) != in {
			return dense{}, fmt.Errorf("%s: row %d has %d columns, want %d", name, i, len(row), in)
		}
		flat = append(flat, row...)
	}
	bias := make([]float64, out)
	copy(bias, b)
	return dense{w: mat.NewDense(out, in, flat), b: mat.NewVecDense(out, bias)}, nil
}

func (d dense) forward(x mat.Vector) *mat.VecDense {
	r, _ := d.w.Dims()
	y := mat.NewVecDense(r, nil)
	y.MulVec(d.w, x)
	y.AddVec(y, d.b)
	return y
}

func relu(v *mat.VecDense) *mat.VecDense {
	for i := 0; i < v.Len(); i++ {
		if v.AtVec(i) < 0 {
			v.SetVec(i, 0)
		}
	}
	return v
}

// Regressor evaluates the layout model in-process.
type Regressor struct {
	inputDim int
	slots    int
	classes  int
	enc0     dense
	enc2     dense
	class    dense
	box      dense
	digest   string
}

func NewRegressor(w Weights) (*Regressor, error) {
	if w.Slots <= 0 || w.Classes <= 0 {
		return nil, fmt.Errorf("max_stalls and num_categories must be positive")
	}
	if len(w.Encoder0W) == 0 {
		return nil, fmt.Errorf("encoder.0.weight missing")
	}
	inputDim := len(w.Encoder0W[0])
	hidden := len(w.Encoder0W)
	r := &Regressor{inputDim: inputDim, slots: w.Slots, classes: w.Classes}
	var err error
	if r.enc0, err = newDense("encoder.0", w.Encoder0W, w.Encoder0B, inputDim); err != nil {
		return nil, err
	}
	if r.enc2, err = newDense("encoder.2", w.Encoder2W, w.Encoder2B, hidden); err != nil {
		return nil, err
	}
	hidden2 := len(w.Encoder2W)
	if r.class, err = newDense("class_head", w.ClassW, w.ClassB, hidden2); err != nil {
		return nil, err
	}
	if r.box, err = newDense("box_head", w.BoxW, w.BoxB, hidden2); err != nil {
		return nil, err
	}
	if got := len(w.ClassW); got != w.Slots*w.Classes {
		return nil, fmt.Errorf("class_head has %d outputs, want %d", got, w.Slots*w.Classes)
	}
	if got := len(w.BoxW); got != w.Slots*4 {
		return nil, fmt.Errorf("box_head has %d outputs, want %d", got, w.Slots*4)
	}
	return r, nil
}

// LoadRegressor reads Weights from a JSON file.
func LoadRegressor(path string) (*Regressor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	r, err := NewRegressor(w)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	r.digest = cache.Hash(data)
	return r, nil
}

// Digest is the sha256 of the weights file, empty for in-memory weights.
func (r *Regressor) Digest() string { return r.digest }

// InputDim is the feature vector length the model expects.
func (r *Regressor) InputDim() int { return r.inputDim }

func (r *Regressor) Predict(ctx context.Context, features []float64) ([]placement.Candidate, error) {
	if len(features) != r.inputDim {
		return nil, fmt.Errorf("model expects %d features, got %d", r.inputDim, len(features))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x := mat.NewVecDense(len(features), append([]float64(nil), features...))
	h := relu(r.enc0.forward(x))
	h = relu(r.enc2.forward(h))
	logits := r.class.forward(h)
	boxes := r.box.forward(h)

	classes := make([]int, r.slots)
	coords := make([][]float64, r.slots)
	for s := 0; s < r.slots; s++ {
		best := 0
		for c := 1; c < r.classes; c++ {
			if logits.AtVec(s*r.classes+c) > logits.AtVec(s*r.classes+best) {
				best = c
			}
		}
		classes[s] = best
		coords[s] = []float64{
			boxes.AtVec(s * 4),
			boxes.AtVec(s*4 + 1),
			boxes.AtVec(s*4 + 2),
			boxes.AtVec(s*4 + 3),
		}
	}
	return Decode(classes, coords), nil
}

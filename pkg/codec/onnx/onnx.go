// Package onnx implements codec.Model on top of ONNX Runtime, running a SNAC
// 24 kHz decoder exported to ONNX.
//
// The exported graph takes three int64 inputs named audio_codes.0,
// audio_codes.1 and audio_codes.2 with shapes [1, n], [1, 2n] and [1, 4n], and
// produces a float32 output audio_values of shape [1, 1, samples]. Input and
// output names can be overridden for graphs exported with different names.
//
// The ONNX Runtime shared library is loaded with dlopen at runtime; its path is
// set with [WithLibraryPath] or picked up from the platform default. The
// session is created once in [New] and reused for every window. A single
// session is not treated as reentrant, so wrap the model in a
// codec.Adapter with codec.WithSerialized(true).
package onnx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/snacstream/pkg/codec"
)

var _ codec.Model = (*Model)(nil)

var (
	envMu   sync.Mutex
	envRefs int
)

// Model is an ONNX Runtime session holding the SNAC decoder graph.
type Model struct {
	session *ort.DynamicAdvancedSession

	modelPath   string
	libraryPath string
	threads     int
	inputNames  []string
	outputName  string

	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for [New].
type Option func(*Model)

// WithLibraryPath sets the path of the onnxruntime shared library.
func WithLibraryPath(path string) Option {
	return func(m *Model) { m.libraryPath = path }
}

// WithThreads sets the intra-op thread count. Zero leaves the runtime default.
func WithThreads(n int) Option {
	return func(m *Model) { m.threads = n }
}

// WithIONames overrides the graph's input and output tensor names.
func WithIONames(inputs [3]string, output string) Option {
	return func(m *Model) {
		m.inputNames = inputs[:]
		m.outputName = output
	}
}

// New initialises the ONNX Runtime environment (once per process) and loads
// the decoder graph at modelPath.
func New(modelPath string, opts ...Option) (*Model, error) {
	if modelPath == "" {
		return nil, errors.New("onnx: modelPath must not be empty")
	}
	m := &Model{
		modelPath:  modelPath,
		inputNames: []string{"audio_codes.0", "audio_codes.1", "audio_codes.2"},
		outputName: "audio_values",
	}
	for _, o := range opts {
		o(m)
	}

	if err := acquireEnv(m.libraryPath); err != nil {
		return nil, err
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		releaseEnv()
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer so.Destroy()
	if m.threads > 0 {
		if err := so.SetIntraOpNumThreads(m.threads); err != nil {
			releaseEnv()
			return nil, fmt.Errorf("onnx: set threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(m.modelPath, m.inputNames, []string{m.outputName}, so)
	if err != nil {
		releaseEnv()
		return nil, fmt.Errorf("onnx: load %q: %w", m.modelPath, err)
	}
	m.session = session
	return m, nil
}

// Decode implements codec.Model. ctx is only checked before the run starts;
// ONNX Runtime does not support mid-run cancellation.
func (m *Model) Decode(ctx context.Context, codes codec.Codes) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int64(codes.Frames())

	inputs := make([]ort.Value, 0, 3)
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for i, vals := range [][]int32{codes.A, codes.B, codes.C} {
		data := make([]int64, len(vals))
		for j, v := range vals {
			data[j] = int64(v)
		}
		width := n * []int64{codec.PerFrameA, codec.PerFrameB, codec.PerFrameC}[i]
		t, err := ort.NewTensor(ort.NewShape(1, width), data)
		if err != nil {
			return nil, fmt.Errorf("onnx: input %s: %w", m.inputNames[i], err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: output %s has unexpected type %T", m.outputName, outputs[0])
	}
	// GetData aliases runtime memory that Destroy frees.
	return slices.Clone(out.GetData()), nil
}

// Close destroys the session and releases this model's hold on the shared
// runtime environment.
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		if m.session != nil {
			m.closeErr = m.session.Destroy()
		}
		releaseEnv()
	})
	return m.closeErr
}

func acquireEnv(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx: initialise runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}
